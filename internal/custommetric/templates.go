package custommetric

import "gokpi/domain/metric"

// Templates returns ready-made formulas for common business metrics. Column
// names are the conventional ones; callers edit them to fit their dataset.
func Templates() []metric.Template {
	return []metric.Template{
		{
			Name:        "Average Order Value",
			Formula:     `sum("revenue") / count("order_id")`,
			Description: "Total revenue divided by number of orders",
			Requires:    []string{"revenue column (numeric)", "order_id column"},
		},
		{
			Name:        "Conversion Rate",
			Formula:     `(count("conversions") / count("visitors")) * 100`,
			Description: "Percentage of visitors who converted",
			Requires:    []string{"conversions column", "visitors column"},
		},
		{
			Name:        "Average Revenue Per Customer",
			Formula:     `sum("revenue") / nunique("customer_id")`,
			Description: "Total revenue divided by unique customers",
			Requires:    []string{"revenue column (numeric)", "customer_id column"},
		},
		{
			Name:        "Profit Margin",
			Formula:     `((sum("revenue") - sum("cost")) / sum("revenue")) * 100`,
			Description: "Profit as percentage of revenue",
			Requires:    []string{"revenue column (numeric)", "cost column (numeric)"},
		},
		{
			Name:        "Average Transaction Size",
			Formula:     `sum("quantity") / count("order_id")`,
			Description: "Average items per order",
			Requires:    []string{"quantity column (numeric)", "order_id column"},
		},
	}
}
