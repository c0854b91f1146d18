// Package finding defines the evidence records consumed by the aggregation
// engine and the error taxonomy shared by the other packages.
//
// # Core Types
//
// Finding is an atomic piece of vulnerability evidence:
//   - Name, description and severity
//   - Producer (plugin name) and finding class
//   - Location (URI and HTTP method) and request ids
//   - An ordered attribute mapping used for grouping keys and templates
//   - A content-derived unique identifier
//
// # Severity Levels
//
// Severity is ordered information < low < medium < high < critical.
//
// # Attributes
//
// Attributes hold tagged values (string, number or bool) in insertion order.
// Each finding class documents the well-known keys it sets; one of them is
// the grouping key.
//
// Example usage:
//
//	f := finding.NewFinding(
//		"cross_domain_js",
//		"cross_domain_js",
//		"Cross-domain javascript source",
//		"The URL includes javascript from foo.com",
//		finding.SeverityLow,
//		finding.NewLocation("GET", "https://target/index.php"),
//		finding.WithIDs(12),
//		finding.WithAttribute("domain", finding.String("foo.com")),
//	)
//
//	if err := f.Validate(); err != nil {
//		log.Fatal(err)
//	}
package finding
