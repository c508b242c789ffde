package render

// Theme holds the colors of the HTML report.
type Theme struct {
	Background string
	TextColor  string
	Link       string

	Active  string // variant whose guards hold
	Frozen  string // frozen variable, fixed function
	Retired string // variant that can no longer be selected
	Warning string // diagnostics, dangling guards
	Bar     string // region fill
}

// NASA is the NASA/Bauhaus theme: geometric, monochrome, sparse color.
var NASA = Theme{
	Background: "#F5F5F5",
	TextColor:  "#1A1A1A",
	Link:       "#0B3D91", // NASA blue

	Active:  "#00695C", // teal
	Frozen:  "#0B3D91",
	Retired: "#9E9E9E",
	Warning: "#FC3D21", // NASA red
	Bar:     "#424242",
}
