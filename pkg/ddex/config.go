package ddex

// CheckReport is the result of SanityCheck: a cheap, non-fatal pass over a
// document that reports its detected version and any Security Gate or
// version-detection issues, without fully materializing a Message.
// SanityCheck does not examine references, so ReferenceWarnings is left
// empty.
type CheckReport struct {
	Valid             bool
	Version           Version
	Issues            []ValidationIssue
	ReferenceWarnings []string
}

// SanityCheck detects a document's version and runs the Security Gate's
// pre-parse bounds against it, without building a full Message. It is meant
// for a caller deciding whether a delivery is worth parsing at all.
func SanityCheck(data []byte) (CheckReport, error) {
	report := CheckReport{Valid: true}

	gate := NewGate(DefaultGateConfig(), nil, nil)
	if err := gate.ScanBytes(data); err != nil {
		report.Valid = false
		report.Issues = append(report.Issues, ValidationIssue{
			Path:    "document",
			Message: err.Error(),
		})
		return report, err
	}

	v, err := DetectVersion(data)
	report.Version = v
	if err != nil {
		report.Valid = false
		report.Issues = append(report.Issues, ValidationIssue{
			Path:    "root",
			Message: err.Error(),
		})
		return report, nil
	}

	return report, nil
}
