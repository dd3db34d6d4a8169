// Package facematch holds geometry and identity helpers shared by enrollment
// and recognition.
package facematch

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	// Calculate intersection.
	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0 // No intersection
	}

	intersection := (x2 - x1) * (y2 - y1)

	// Calculate union.
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// ScaleBBox multiplies every coordinate of a [x1, y1, x2, y2] box by factor.
// Used to map detections on a downscaled image back to source pixels.
func ScaleBBox(bbox []float64, factor float64) []float64 {
	if len(bbox) != 4 || factor == 1 {
		return bbox
	}
	return []float64{
		bbox[0] * factor,
		bbox[1] * factor,
		bbox[2] * factor,
		bbox[3] * factor,
	}
}

// ValidBBox reports whether bbox is a non-degenerate [x1, y1, x2, y2] box.
func ValidBBox(bbox []float64) bool {
	return len(bbox) == 4 && bbox[2] > bbox[0] && bbox[3] > bbox[1]
}

// BestOverlap returns the index of the candidate with the highest IoU against
// target, or -1 when no candidate reaches minIoU. Earlier candidates win ties.
func BestOverlap(candidates [][]float64, target []float64, minIoU float64) (int, float64) {
	bestIdx := -1
	bestIoU := 0.0
	for i, c := range candidates {
		iou := ComputeIoU(c, target)
		if iou < minIoU {
			continue
		}
		if bestIdx == -1 || iou > bestIoU {
			bestIdx = i
			bestIoU = iou
		}
	}
	return bestIdx, bestIoU
}
