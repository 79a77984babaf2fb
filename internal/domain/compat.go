package domain

import (
	"fmt"
	"strings"
)

// Drill-safe lens materials accepted for rimless mounting. Matched
// case-insensitively as substrings of the declared lens material.
var drillSafeMaterials = []string{"TRIVEX", "POLYCARB"}

// CheckPrescriptionAgainstLens compares each measured prescription value with
// the declared range of the lens blank and returns one issue per violation.
// Absent prescription values are never flagged. An empty result means the
// prescription can be ground onto this lens.
func CheckPrescriptionAgainstLens(p Prescription, lens RxLensSpec) []string {
	var issues []string
	issues = append(issues, checkEye("right", p.Right, lens)...)
	issues = append(issues, checkEye("left", p.Left, lens)...)
	return issues
}

func checkEye(eye string, e EyePrescription, lens RxLensSpec) []string {
	var issues []string
	if outOfRange(e.Sphere, lens.SphereMin, lens.SphereMax) {
		issues = append(issues, fmt.Sprintf("%s eye sphere %.2f is outside the lens range", eye, *e.Sphere))
	}
	if outOfRange(e.Cylinder, lens.CylinderMin, lens.CylinderMax) {
		issues = append(issues, fmt.Sprintf("%s eye cylinder %.2f is outside the lens range", eye, *e.Cylinder))
	}
	if outOfRange(e.Axis, lens.AxisMin, lens.AxisMax) {
		issues = append(issues, fmt.Sprintf("%s eye axis %.0f is outside the lens range", eye, *e.Axis))
	}
	if outOfRange(e.Add, lens.AddMin, lens.AddMax) {
		issues = append(issues, fmt.Sprintf("%s eye add power %.2f is outside the lens range", eye, *e.Add))
	}
	return issues
}

// outOfRange reports whether a measured value violates a declared bound.
// A nil value is permissive: nothing was measured, nothing to flag.
func outOfRange(value, min, max *float64) bool {
	if value == nil {
		return false
	}
	if min != nil && *value < *min {
		return true
	}
	if max != nil && *value > *max {
		return true
	}
	return false
}

// CheckFrameLensFit validates that a lens blank can be cut and mounted into
// a frame. An empty result means the pairing is workable.
func CheckFrameLensFit(frame FrameSpec, lens RxLensSpec) []string {
	var issues []string

	if frame.EyeSize != nil && lens.LensWidth != nil && *lens.LensWidth < *frame.EyeSize {
		issues = append(issues, fmt.Sprintf(
			"lens blank width %.0fmm is too small to cut for frame eye size %.0fmm", *lens.LensWidth, *frame.EyeSize))
	}

	if isRimless(frame.RimType) && !isDrillSafe(lens.Material) {
		issues = append(issues, fmt.Sprintf(
			"rimless frames require a drill-safe lens material (Trivex or Polycarbonate), got %q", lens.Material))
	}

	return issues
}

func isRimless(rimType string) bool {
	return strings.Contains(strings.ToUpper(rimType), "RIMLESS")
}

func isDrillSafe(material string) bool {
	upper := strings.ToUpper(material)
	for _, safe := range drillSafeMaterials {
		if strings.Contains(upper, safe) {
			return true
		}
	}
	return false
}
