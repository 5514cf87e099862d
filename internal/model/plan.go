package model

// Plan は料金プランを表す。価格はセント単位。
type Plan struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	MonthlyPriceCents int      `json:"monthlyPriceCents"`
	YearlyPriceCents  int      `json:"yearlyPriceCents"`
	ContactSales      bool     `json:"contactSales"`
	Features          []string `json:"features"`
}

// Plans は提供中の料金プラン一覧。年額は月額の20%引き。
var Plans = []Plan{
	{
		ID:                "starter",
		Name:              "Starter",
		Description:       "For casual users and trying out the platform.",
		MonthlyPriceCents: 0,
		YearlyPriceCents:  0,
		Features: []string{
			"5 AI Generations per Day",
			"Access to Standard Tones",
			"All Social Media Platforms",
			"Save & Review Past Generations",
		},
	},
	{
		ID:                "pro",
		Name:              "Pro",
		Description:       "For creators, marketers, and power users.",
		MonthlyPriceCents: 900,
		YearlyPriceCents:  8640,
		Features: []string{
			"Unlimited AI Generations",
			"Access to All Content Tones",
			"Advanced Analytics & Insights (Soon)",
			"Priority Customer Support",
		},
	},
	{
		ID:           "business",
		Name:         "Business",
		Description:  "For agencies, teams, and enterprises.",
		ContactSales: true,
		Features: []string{
			"Everything in Pro",
			"Multi-User & Team Collaboration",
			"Full API Access for Custom Workflows",
			"Dedicated Onboarding Manager",
		},
	},
}
