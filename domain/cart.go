package domain

// CartLine is a single product entry in the cart.
// Prices are VND, which has no minor unit, so int64 is exact.
type CartLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int32  `json:"quantity"`
	ImageRef  string `json:"image_ref,omitempty"`
}

// Cart aggregates the selected lines. Total and LineCount are derived from
// Lines and must only ever be written by Recalculate.
type Cart struct {
	Lines     []CartLine `json:"lines"`
	Total     int64      `json:"total"`
	LineCount int32      `json:"line_count"`
}

// Recalculate recomputes the derived fields from the lines.
// It is the single place Total and LineCount are assigned.
func (c *Cart) Recalculate() {
	var total int64
	var count int32
	for _, line := range c.Lines {
		total += line.UnitPrice * int64(line.Quantity)
		count += line.Quantity
	}
	c.Total = total
	c.LineCount = count
}

// Line returns a pointer to the line for the given product, or nil.
func (c *Cart) Line(productID string) *CartLine {
	for i := range c.Lines {
		if c.Lines[i].ProductID == productID {
			return &c.Lines[i]
		}
	}
	return nil
}

func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}
