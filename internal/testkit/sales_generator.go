// Package testkit generates synthetic sales datasets for demos, load checks
// and end-to-end tests.
package testkit

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"math/rand"
	"sort"
	"time"

	"gokpi/domain/dataset"

	"github.com/shopspring/decimal"
)

// SalesColumns is the header row of generated datasets. The names line up
// with the placeholders of the built-in catalog.
var SalesColumns = []string{
	"Order Date", "Order ID", "Customer ID", "Category", "Region",
	"Quantity", "Unit Price", "Revenue", "Cost",
}

// SalesGeneratorConfig configures the sales data generator
type SalesGeneratorConfig struct {
	CustomerCount        int       `json:"customer_count"`
	AvgOrdersPerCustomer float64   `json:"avg_orders_per_customer"`
	MaxLinesPerOrder     int       `json:"max_lines_per_order"`
	MonthlyGrowth        float64   `json:"monthly_growth"` // compounding uplift on quantities
	CostRatio            float64   `json:"cost_ratio"`     // cost as a share of revenue
	StartDate            time.Time `json:"start_date"`
	EndDate              time.Time `json:"end_date"`
	Seed                 int64     `json:"seed"`
}

// DefaultSalesConfig returns sensible defaults for sales data generation
func DefaultSalesConfig() SalesGeneratorConfig {
	return SalesGeneratorConfig{
		CustomerCount:        200,
		AvgOrdersPerCustomer: 3,
		MaxLinesPerOrder:     3,
		MonthlyGrowth:        0.05,
		CostRatio:            0.6,
		StartDate:            time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:              time.Date(2024, 6, 30, 23, 59, 59, 0, time.UTC),
		Seed:                 42,
	}
}

// SalesLine is one generated order line
type SalesLine struct {
	OrderDate  time.Time
	OrderID    string
	CustomerID string
	Category   string
	Region     string
	Quantity   int
	UnitPrice  decimal.Decimal
	Revenue    decimal.Decimal
	Cost       decimal.Decimal
}

// Record returns the line as cells in SalesColumns order
func (l SalesLine) Record() []string {
	return []string{
		l.OrderDate.Format("2006-01-02"),
		l.OrderID,
		l.CustomerID,
		l.Category,
		l.Region,
		fmt.Sprintf("%d", l.Quantity),
		l.UnitPrice.StringFixed(2),
		l.Revenue.StringFixed(2),
		l.Cost.StringFixed(2),
	}
}

// SalesDataGenerator generates order lines deterministically from a seed
type SalesDataGenerator struct {
	config SalesGeneratorConfig
	rng    *rand.Rand
}

// NewSalesDataGenerator creates a new sales data generator
func NewSalesDataGenerator(config SalesGeneratorConfig) *SalesDataGenerator {
	if config.MaxLinesPerOrder <= 0 {
		config.MaxLinesPerOrder = 1
	}
	return &SalesDataGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

var categoryPrices = map[string][2]float64{
	"Electronics": {80, 600},
	"Home":        {15, 180},
	"Apparel":     {10, 120},
	"Grocery":     {2, 40},
}

var categories = []string{"Electronics", "Home", "Apparel", "Grocery"}

// GenerateLines generates every order line, sorted by order date
func (g *SalesDataGenerator) GenerateLines() []SalesLine {
	var lines []SalesLine
	orderSeq := 0
	for i := 0; i < g.config.CustomerCount; i++ {
		customerID := fmt.Sprintf("CUST-%04d", i+1)
		region := g.randomRegion()

		orderCount := int(math.Round(g.config.AvgOrdersPerCustomer + g.rng.NormFloat64()*0.75))
		if orderCount < 1 && g.config.AvgOrdersPerCustomer > 0 {
			orderCount = 1
		}
		for o := 0; o < orderCount; o++ {
			orderSeq++
			orderID := fmt.Sprintf("ORD-%06d", orderSeq)
			orderTime := g.randomTimeInRange(g.config.StartDate, g.config.EndDate)
			lineCount := 1 + g.rng.Intn(g.config.MaxLinesPerOrder)
			for l := 0; l < lineCount; l++ {
				lines = append(lines, g.orderLine(orderID, customerID, region, orderTime))
			}
		}
	}
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].OrderDate.Before(lines[j].OrderDate)
	})
	return lines
}

func (g *SalesDataGenerator) orderLine(orderID, customerID, region string, orderTime time.Time) SalesLine {
	category := g.randomCategory()
	bounds := categoryPrices[category]
	price := decimal.NewFromFloat(bounds[0] + g.rng.Float64()*(bounds[1]-bounds[0])).Round(2)

	months := monthsBetween(g.config.StartDate, orderTime)
	growth := math.Pow(1+g.config.MonthlyGrowth, float64(months))
	qty := int(math.Max(1, math.Round((1+g.rng.ExpFloat64())*growth)))

	revenue := price.Mul(decimal.NewFromInt(int64(qty))).Round(2)
	// Cost jitters around the configured ratio
	ratio := g.config.CostRatio * (0.9 + 0.2*g.rng.Float64())
	cost := revenue.Mul(decimal.NewFromFloat(ratio)).Round(2)

	return SalesLine{
		OrderDate:  orderTime,
		OrderID:    orderID,
		CustomerID: customerID,
		Category:   category,
		Region:     region,
		Quantity:   qty,
		UnitPrice:  price,
		Revenue:    revenue,
		Cost:       cost,
	}
}

// GenerateDataset generates lines and loads them as a typed dataset
func (g *SalesDataGenerator) GenerateDataset(name string) (*dataset.Dataset, error) {
	lines := g.GenerateLines()
	rows := make([][]string, len(lines))
	for i, l := range lines {
		rows[i] = l.Record()
	}
	return dataset.New(name, SalesColumns, rows, nil)
}

// WriteCSV writes lines with a header row
func WriteCSV(w io.Writer, lines []SalesLine) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SalesColumns); err != nil {
		return err
	}
	for _, l := range lines {
		if err := cw.Write(l.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Totals sums revenue and cost exactly
func Totals(lines []SalesLine) (revenue, cost decimal.Decimal) {
	revenue, cost = decimal.Zero, decimal.Zero
	for _, l := range lines {
		revenue = revenue.Add(l.Revenue)
		cost = cost.Add(l.Cost)
	}
	return revenue, cost
}

// Helper methods for random value generation

func (g *SalesDataGenerator) randomTimeInRange(start, end time.Time) time.Time {
	if start.After(end) {
		start, end = end, start
	}
	duration := end.Sub(start)
	if duration <= 0 {
		return start
	}
	return start.Add(time.Duration(g.rng.Int63n(int64(duration))))
}

func (g *SalesDataGenerator) randomCategory() string {
	weights := []float64{0.15, 0.25, 0.3, 0.3}
	return categories[weightedIndex(g.rng.Float64(), weights)]
}

func (g *SalesDataGenerator) randomRegion() string {
	regions := []string{"North", "South", "East", "West"}
	weights := []float64{0.35, 0.25, 0.25, 0.15}
	return regions[weightedIndex(g.rng.Float64(), weights)]
}

func weightedIndex(r float64, weights []float64) int {
	cumulative := 0.0
	for i, weight := range weights {
		cumulative += weight
		if r <= cumulative {
			return i
		}
	}
	return 0
}

func monthsBetween(start, t time.Time) int {
	m := (t.Year()-start.Year())*12 + int(t.Month()) - int(start.Month())
	if m < 0 {
		return 0
	}
	return m
}
