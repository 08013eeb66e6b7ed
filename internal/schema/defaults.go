package schema

// Default returns the invoice schema the editor starts with.
func Default() []Field {
	return []Field{
		String("company"),
		String("address"),
		Number("total_sum"),
		Group("items",
			String("item"),
			Number("unit_price"),
			Number("quantity"),
			Number("sum"),
		),
	}
}
