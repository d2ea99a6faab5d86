package models

// Feature names accepted by the access gate.
const (
	FeatureScan            = "scan"
	FeatureGenerateRecipes = "generate_recipes"
	FeatureCookMode        = "cook_mode"
	FeatureFavorites       = "favorites"
	FeatureLeaderboard     = "leaderboard"
	FeatureCreateRecipes   = "create_recipes"
	FeatureEarnRevenue     = "earn_revenue"
)

// UnlimitedUsage marks a capability with no daily cap.
const UnlimitedUsage = -1

// FeatureAccess is the capability matrix derived from a subscription's
// current state. It is recomputed on every access check and never persisted.
type FeatureAccess struct {
	CanScan   bool `json:"can_scan"`
	ScanLimit int  `json:"scan_limit"` // per day, UnlimitedUsage for no cap

	CanGenerateRecipes bool `json:"can_generate_recipes"`
	RecipeLimit        int  `json:"recipe_limit"`

	CanAccessCookMode    bool `json:"can_access_cook_mode"`
	CanFavoriteRecipes   bool `json:"can_favorite_recipes"`
	CanAccessLeaderboard bool `json:"can_access_leaderboard"`

	CanCreateRecipes bool `json:"can_create_recipes"`
	CanEarnRevenue   bool `json:"can_earn_revenue"`

	HasAds bool `json:"has_ads"`
}

// WinBackOffer is the re-engagement incentive computed from elapsed time
// since cancellation.
type WinBackOffer struct {
	DiscountPercent int  `json:"discount_percent"`
	TrialDays       int  `json:"trial_days"`
	WindowDays      int  `json:"window_days"`
	FreeTrialOnly   bool `json:"free_trial_only"`
}
