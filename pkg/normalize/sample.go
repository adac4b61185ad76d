// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package normalize

// Sample returns the placeholder result shown when there is no usable scan
// result. Each call returns a fresh value.
func Sample() *Result {
	return &Result{
		BusinessName:    "Sample Business",
		ReputationScore: 72,
		Sentiment:       Sentiment{Positive: 45, Negative: 25, Neutral: 30},
		Themes: []Theme{
			{Name: "Customer Service", Sentiment: Positive, Frequency: 35},
			{Name: "Product Quality", Sentiment: Positive, Frequency: 28},
			{Name: "Pricing", Sentiment: Neutral, Frequency: 22},
			{Name: "Delivery Speed", Sentiment: Negative, Frequency: 15},
			{Name: "Website Experience", Sentiment: Positive, Frequency: 12},
		},
		Mentions: []Mention{
			{URL: "https://google.com/reviews/example", Sentiment: Positive},
			{URL: "https://yelp.com/biz/example", Sentiment: Positive},
			{URL: "https://trustpilot.com/review/example", Sentiment: Neutral},
			{URL: "https://bbb.org/business/example", Sentiment: Positive},
			{URL: "https://facebook.com/example/reviews", Sentiment: Negative},
		},
		Recommendations: []string{
			"Respond to customer inquiries faster",
			"Address delivery speed concerns raised in negative reviews",
			"Ask satisfied customers to leave reviews",
			"Keep business listings consistent across platforms",
			"Monitor social media mentions and reply regularly",
		},
		Narrative: Narrative{
			ExecutiveSummary: "The online reputation is Good with a score of 72/100. Most mentions are positive, " +
				"especially around customer service and product quality, while delivery speed and response times " +
				"leave room for improvement.",
			DetailedAnalysis: "Sources across review sites and social media show a mostly positive perception of the brand. " +
				"Staff helpfulness and quick problem resolution are praised often and product quality gets steady " +
				"positive feedback. Concerns center on delivery times and, to a lesser degree, pricing.",
			RiskFactors: "Repeated complaints about delivery delays may hurt retention. Some negative social media " +
				"mentions go unanswered for too long. Competitors are increasingly active on review sites.",
			Opportunities: "The strong customer service reputation can anchor marketing. More reviews from happy " +
				"customers would lift the overall score. Getting ahead of delivery concerns can turn negative " +
				"experiences into positive ones, and local SEO work could widen reach.",
		},
	}
}
