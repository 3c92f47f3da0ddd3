package detector

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	connectionColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	landmarkColor   = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// DrawLandmarks draws the hand skeleton onto img in place.
// Landmarks are normalized, so they are scaled to the image size.
func DrawLandmarks(img *gocv.Mat, hand HandLandmarks) {
	if img == nil || img.Empty() {
		return
	}

	w, h := img.Cols(), img.Rows()
	pt := func(i int) image.Point {
		p := hand.Points[i]
		return image.Pt(int(p.X*float64(w)), int(p.Y*float64(h)))
	}

	for _, c := range HandConnections {
		gocv.Line(img, pt(c[0]), pt(c[1]), connectionColor, 2)
	}
	for i := 0; i < NumLandmarks; i++ {
		gocv.Circle(img, pt(i), 3, landmarkColor, -1)
	}
}
