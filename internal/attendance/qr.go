package attendance

import "strings"

// ScanKind says what a scanned code refers to.
type ScanKind string

const (
	ScanClassroom ScanKind = "cid"
	ScanSession   ScanKind = "cno"
)

// Scan is a decoded QR payload.
type Scan struct {
	Kind ScanKind `json:"kind"`
	ID   string   `json:"id"`
}

// ParseScan decodes "cid<classroomId>" and "cno<sessionId>" values.
func ParseScan(value string) (Scan, error) {
	value = strings.TrimSpace(value)
	for _, kind := range []ScanKind{ScanClassroom, ScanSession} {
		id, ok := strings.CutPrefix(value, string(kind))
		if !ok {
			continue
		}
		if err := checkIDs(id); err != nil {
			return Scan{}, err
		}
		return Scan{Kind: kind, ID: id}, nil
	}
	return Scan{}, invalid("unrecognised code %q", value)
}
