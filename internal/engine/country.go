package engine

// defaultCountryAliases maps the display codes used by dashboard selectors
// to the country values stored in the data. Overridable via configuration.
var defaultCountryAliases = map[string]string{
	"FR":  "France",
	"ES":  "Spain",
	"UK":  "United Kingdom",
	"PT":  "Portugal",
	"NL":  "Netherlands",
	"DE":  "Germany",
	"IT":  "Italy",
	"BEL": "Belgium",
}

// resolveCountry converts a display code to its data value. Unknown codes
// pass through unchanged, so data values themselves are always accepted.
func (e *Engine) resolveCountry(code string) string {
	if v, ok := e.countries[code]; ok {
		return v
	}
	return code
}
