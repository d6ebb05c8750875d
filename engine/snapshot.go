package engine

import (
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"math"
	"strings"

	"gocv.io/x/gocv"

	"FacePoseServer/challenge"
	"FacePoseServer/landmark"
)

var (
	poseColor = color.RGBA{G: 255}
	boxColor  = color.RGBA{R: 255, G: 200}
	textColor = color.RGBA{R: 255, G: 255, B: 255}
)

// Base64ToMat 将 base64 字符串（可带 data:image/... 前缀）转为 gocv.Mat
func Base64ToMat(b64 string) (gocv.Mat, error) {
	// 去掉可能的 data URL 前缀
	if i := strings.Index(b64, ","); i != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return gocv.NewMat(), err
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), err
	}
	if mat.Empty() {
		// IMDecode 返回空 Mat 表示解码失败
		_ = mat.Close()
		return gocv.NewMat(), errors.New("decoded image is empty or unsupported format")
	}
	return mat, nil
}

// writeSnapshot 画出六个 PnP 关键点、取景框和当前提示，写到 path
func writeSnapshot(path string, frame challenge.Frame, fb challenge.Feedback) error {
	mat, err := Base64ToMat(frame.Image)
	if err != nil {
		return err
	}
	defer mat.Close()

	w, h := mat.Cols(), mat.Rows()
	for _, idx := range landmark.PoseIndices {
		if idx >= len(frame.Landmarks) {
			break
		}
		p := frame.Landmarks[idx].Pixel(w, h)
		gocv.Circle(&mat, image.Pt(int(p.X), int(p.Y)), 3, poseColor, -1)
	}

	if frame.ViewWidth > 0 && frame.ViewHeight > 0 {
		box := landmark.OvalRect(frame.ViewWidth, frame.ViewHeight)
		if frame.Box != nil {
			box = *frame.Box
		}
		// 取景框是 view 坐标，按 cover-fit 比例换回图像坐标
		scale := math.Max(float64(frame.ViewWidth)/float64(w), float64(frame.ViewHeight)/float64(h))
		r := box.Scale(1 / scale)
		gocv.Rectangle(&mat, image.Rect(int(r.Left), int(r.Top), int(r.Right), int(r.Bottom)), boxColor, 2)
	}

	gocv.PutText(&mat, fb.Instruction, image.Pt(10, 30), gocv.FontHersheySimplex, 0.8, textColor, 2)
	if ok := gocv.IMWrite(path, mat); !ok {
		return errors.New("failed to write " + path)
	}
	return nil
}
