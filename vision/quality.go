package vision

import (
	"bytes"
	"fmt"
	"image"

	// 注册标准解码器，截图以 PNG 或 JPEG 为主
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/BaSui01/visionflow/types"
)

// QualityReport 质量门槛的测量结果，无论通过与否都返回以便记录日志
type QualityReport struct {
	Width      int
	Height     int
	Brightness float64
	Sharpness  float64
}

// CheckQuality 在任何推理调用之前对截图做本地质量检查。
// 依次验证：可解码、最小分辨率、平均亮度区间、拉普拉斯方差锐度。
// 失败时返回 POOR_IMAGE_QUALITY 错误，消息中带有修正建议。
func CheckQuality(data []byte, cfg Config) (*QualityReport, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, types.NewPoorImageQuality(
			"image cannot be decoded, upload a PNG or JPEG screenshot")
	}

	bounds := img.Bounds()
	report := &QualityReport{Width: bounds.Dx(), Height: bounds.Dy()}

	if report.Width < cfg.MinWidth || report.Height < cfg.MinHeight {
		return report, types.NewPoorImageQuality(fmt.Sprintf(
			"image resolution %dx%d is below the minimum %dx%d, capture a larger screenshot",
			report.Width, report.Height, cfg.MinWidth, cfg.MinHeight))
	}

	gray := grayPlane(img)
	report.Brightness = meanBrightness(gray, report.Width, report.Height)
	report.Sharpness = laplacianVariance(gray, report.Width, report.Height)

	if report.Brightness < cfg.MinBrightness {
		return report, types.NewPoorImageQuality(fmt.Sprintf(
			"image is too dark (brightness %.1f, minimum %.1f), retake with more light",
			report.Brightness, cfg.MinBrightness))
	}
	if report.Brightness > cfg.MaxBrightness {
		return report, types.NewPoorImageQuality(fmt.Sprintf(
			"image is too bright (brightness %.1f, maximum %.1f), reduce glare and retake",
			report.Brightness, cfg.MaxBrightness))
	}
	if report.Sharpness < cfg.MinSharpness {
		return report, types.NewPoorImageQuality(fmt.Sprintf(
			"image is too blurry (sharpness %.1f, minimum %.1f), retake the screenshot in focus",
			report.Sharpness, cfg.MinSharpness))
	}

	return report, nil
}

// grayPlane 将图像转为 0-255 的灰度平面，后续统计都在它上面进行
func grayPlane(img image.Image) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := make([]float64, w*h)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			// 16 位通道映射到 0-255，BT.601 亮度权重
			plane[i] = (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			i++
		}
	}
	return plane
}

func meanBrightness(plane []float64, w, h int) float64 {
	if w*h == 0 {
		return 0
	}
	var sum float64
	for _, v := range plane {
		sum += v
	}
	return sum / float64(w*h)
}

// laplacianVariance 四邻域拉普拉斯响应的方差，值越低越模糊
func laplacianVariance(plane []float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	n := (w - 2) * (h - 2)
	responses := make([]float64, 0, n)
	var sum float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := plane[y*w+x]
			lap := 4*c - plane[(y-1)*w+x] - plane[(y+1)*w+x] - plane[y*w+x-1] - plane[y*w+x+1]
			responses = append(responses, lap)
			sum += lap
		}
	}
	mean := sum / float64(n)
	var variance float64
	for _, v := range responses {
		d := v - mean
		variance += d * d
	}
	return variance / float64(n)
}
