package ocr

import (
	"sort"
	"strings"
)

const (
	// Detections below this confidence are dropped before grouping
	minDetectionConfidence = 0.7
	// Detections shorter than this are dropped as punctuation noise
	minDetectionTextLength = 2

	// Normalized horizontal zone boundaries for LEFT / MIDDLE / RIGHT
	leftZoneMax  = 0.3
	rightZoneMin = 0.7

	// Minimum vertical overlap (of the shorter box) to pair an item with a price
	pairOverlapRatio = 0.3
	// Minimum span overlap for attaching a middle-zone detection to a line
	middleOverlapRatio = 0.25
)

// detection is one raw OCR token in pixel coordinates, with the derived
// values the grouper keys on.
type detection struct {
	text       string
	confidence float64
	box        [][2]float64 // quad corner points
	minX       float64
	yMin       float64
	yMax       float64
	centerY    float64
}

func newDetection(text string, confidence float64, box [][2]float64) detection {
	d := detection{text: text, confidence: confidence, box: box}
	if len(box) == 0 {
		return d
	}
	d.minX = box[0][0]
	d.yMin = box[0][1]
	d.yMax = box[0][1]
	var sumY float64
	for _, p := range box {
		if p[0] < d.minX {
			d.minX = p[0]
		}
		if p[1] < d.yMin {
			d.yMin = p[1]
		}
		if p[1] > d.yMax {
			d.yMax = p[1]
		}
		sumY += p[1]
	}
	d.centerY = sumY / float64(len(box))
	return d
}

// boxesOverlapY reports whether two detections overlap vertically by at
// least ratio of the shorter box. More robust than center distance when
// one box is much taller than the other.
func boxesOverlapY(a, b detection, ratio float64) bool {
	overlapStart := a.yMin
	if b.yMin > overlapStart {
		overlapStart = b.yMin
	}
	overlapEnd := a.yMax
	if b.yMax < overlapEnd {
		overlapEnd = b.yMax
	}
	if overlapStart >= overlapEnd {
		return false
	}
	smaller := a.yMax - a.yMin
	if h := b.yMax - b.yMin; h < smaller {
		smaller = h
	}
	if smaller <= 0 {
		return false
	}
	return (overlapEnd-overlapStart)/smaller >= ratio
}

// adaptiveMiddleYThreshold derives the center-distance tolerance for
// middle-zone merges from the median detection height. Larger text or
// blur widens the tolerance; the clamp avoids cross-row merges.
func adaptiveMiddleYThreshold(detections []detection) float64 {
	heights := make([]float64, 0, len(detections))
	for _, d := range detections {
		if d.yMax > d.yMin {
			heights = append(heights, d.yMax-d.yMin)
		}
	}
	if len(heights) == 0 {
		return 24.0
	}
	sort.Float64s(heights)
	median := heights[len(heights)/2]
	threshold := median * 0.8
	if threshold < 12.0 {
		return 12.0
	}
	if threshold > 30.0 {
		return 30.0
	}
	return threshold
}

func lineYSpan(line []detection) (float64, float64) {
	minY, maxY := line[0].yMin, line[0].yMax
	for _, d := range line[1:] {
		if d.yMin < minY {
			minY = d.yMin
		}
		if d.yMax > maxY {
			maxY = d.yMax
		}
	}
	return minY, maxY
}

func lineCenterY(line []detection) float64 {
	var sum float64
	for _, d := range line {
		sum += d.centerY
	}
	return sum / float64(len(line))
}

func lineOverlapRatio(d detection, line []detection) float64 {
	lineMin, lineMax := lineYSpan(line)
	overlapStart := d.yMin
	if lineMin > overlapStart {
		overlapStart = lineMin
	}
	overlapEnd := d.yMax
	if lineMax < overlapEnd {
		overlapEnd = lineMax
	}
	if overlapStart >= overlapEnd {
		return 0
	}
	detHeight := d.yMax - d.yMin
	if detHeight < 1e-6 {
		detHeight = 1e-6
	}
	lineHeight := lineMax - lineMin
	if lineHeight < 1e-6 {
		lineHeight = 1e-6
	}
	smaller := detHeight
	if lineHeight < smaller {
		smaller = lineHeight
	}
	return (overlapEnd - overlapStart) / smaller
}

func distanceToLineSpan(d detection, line []detection) float64 {
	lineMin, lineMax := lineYSpan(line)
	if d.centerY >= lineMin && d.centerY <= lineMax {
		return 0
	}
	if d.centerY < lineMin {
		return lineMin - d.centerY
	}
	return d.centerY - lineMax
}

// groupDetections builds reading-order lines via item-first matching.
// LEFT detections claim the first unconsumed RIGHT detection they overlap
// vertically; middle-zone detections attach to the best existing line.
func groupDetections(detections []detection, imageWidth float64) [][]detection {
	if len(detections) == 0 {
		return nil
	}

	var leftItems, middleItems, rightItems []detection
	for _, d := range detections {
		xNorm := d.minX / imageWidth
		switch {
		case xNorm < leftZoneMax:
			leftItems = append(leftItems, d)
		case xNorm > rightZoneMin:
			rightItems = append(rightItems, d)
		default:
			middleItems = append(middleItems, d)
		}
	}

	sort.SliceStable(leftItems, func(i, j int) bool { return leftItems[i].centerY < leftItems[j].centerY })
	sort.SliceStable(rightItems, func(i, j int) bool { return rightItems[i].centerY < rightItems[j].centerY })

	assigned := make(map[int]bool)
	var lines [][]detection

	// Receipts are visually monotonic top to bottom, so greedy
	// first-available pairing in scan order approximates optimal matching
	// and never hands one price to two items.
	for _, left := range leftItems {
		paired := false
		for ri, right := range rightItems {
			if assigned[ri] {
				continue
			}
			if boxesOverlapY(left, right, pairOverlapRatio) {
				lines = append(lines, []detection{left, right})
				assigned[ri] = true
				paired = true
				break
			}
		}
		if !paired {
			lines = append(lines, []detection{left})
		}
	}

	// Orphan prices stand alone
	for ri, right := range rightItems {
		if !assigned[ri] {
			lines = append(lines, []detection{right})
		}
	}

	yThreshold := adaptiveMiddleYThreshold(detections)
	for _, mid := range middleItems {
		bestIdx := -1
		var bestScore [3]float64
		for idx, line := range lines {
			overlap := lineOverlapRatio(mid, line)
			centerDist := mid.centerY - lineCenterY(line)
			if centerDist < 0 {
				centerDist = -centerDist
			}
			if overlap < middleOverlapRatio && centerDist > yThreshold {
				continue
			}
			score := [3]float64{1, distanceToLineSpan(mid, line), centerDist}
			if overlap >= middleOverlapRatio {
				score[0] = 0
			}
			if bestIdx == -1 || scoreLess(score, bestScore) {
				bestScore = score
				bestIdx = idx
			}
		}
		if bestIdx >= 0 {
			lines[bestIdx] = append(lines[bestIdx], mid)
		} else {
			lines = append(lines, []detection{mid})
		}
	}

	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].minX < line[j].minX })
	}
	sort.SliceStable(lines, func(i, j int) bool { return lineCenterY(lines[i]) < lineCenterY(lines[j]) })

	return lines
}

func scoreLess(a, b [3]float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// transformRawResult filters raw detections, groups them into lines, and
// normalizes geometry into the [0,1] Result shape. Padding added during
// image preparation is subtracted so coordinates refer to the original
// image.
func transformRawResult(raw *RawResult, padding float64) *Result {
	imageWidth := raw.ImageWidth - 2*padding
	imageHeight := raw.ImageHeight - 2*padding
	if len(raw.Detections) == 0 || imageWidth <= 0 || imageHeight <= 0 {
		return &Result{Status: "success", FullText: "", Pages: []Page{{}}}
	}

	detections := make([]detection, 0, len(raw.Detections))
	for _, rd := range raw.Detections {
		if rd.Confidence < minDetectionConfidence {
			continue
		}
		if len(strings.TrimSpace(rd.Text)) < minDetectionTextLength {
			continue
		}
		box := make([][2]float64, len(rd.Box))
		for i, p := range rd.Box {
			box[i] = [2]float64{p[0] - padding, p[1] - padding}
		}
		detections = append(detections, newDetection(rd.Text, rd.Confidence, box))
	}

	sort.SliceStable(detections, func(i, j int) bool {
		if detections[i].centerY != detections[j].centerY {
			return detections[i].centerY < detections[j].centerY
		}
		return detections[i].minX < detections[j].minX
	})

	grouped := groupDetections(detections, imageWidth)

	resultLines := make([]Line, 0, len(grouped))
	for _, line := range grouped {
		words := make([]Word, 0, len(line))
		texts := make([]string, 0, len(line))
		for _, d := range line {
			minX, minY := d.box[0][0], d.box[0][1]
			maxX, maxY := minX, minY
			for _, p := range d.box {
				if p[0] < minX {
					minX = p[0]
				}
				if p[0] > maxX {
					maxX = p[0]
				}
				if p[1] < minY {
					minY = p[1]
				}
				if p[1] > maxY {
					maxY = p[1]
				}
			}
			words = append(words, Word{
				Text:       d.text,
				Confidence: d.confidence,
				BBox: [2][2]float64{
					{clamp01(minX / imageWidth), clamp01(minY / imageHeight)},
					{clamp01(maxX / imageWidth), clamp01(maxY / imageHeight)},
				},
			})
			texts = append(texts, d.text)
		}
		resultLines = append(resultLines, Line{Text: strings.Join(texts, " "), Words: words})
	}

	fullLines := make([]string, len(resultLines))
	for i, line := range resultLines {
		fullLines[i] = line.Text
	}

	return &Result{
		Status:   "success",
		FullText: strings.Join(fullLines, "\n"),
		Pages:    []Page{{Lines: resultLines}},
	}
}
