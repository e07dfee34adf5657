package api

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/kdimtricp/smilegame/internal/facemesh"
	"github.com/kdimtricp/smilegame/internal/game"
	"github.com/kdimtricp/smilegame/internal/highscore"
)

var errFramePayload = errors.New("frame must carry exactly one of landmarks, mesh, image or noFace")

type CreateSessionRequest struct {
	Mode      string `json:"mode" validate:"required"`
	Detection string `json:"detection" validate:"omitempty,oneof=client server"`
}

func (req CreateSessionRequest) options() (game.SessionOptions, error) {
	mode, err := highscore.ParseMode(req.Mode)
	if err != nil {
		return game.SessionOptions{}, err
	}
	detection, err := game.ParseDetection(req.Detection)
	if err != nil {
		return game.SessionOptions{}, err
	}

	return game.SessionOptions{Mode: mode, Detection: detection}, nil
}

// FrameRequest is one frame from the browser. Landmarks are named points;
// Mesh is the raw face mesh point array; Image is a base64 encoded camera frame
// for server-side detection.
type FrameRequest struct {
	RoundID   string           `json:"roundId" validate:"omitempty,max=64"`
	NoFace    bool             `json:"noFace"`
	Landmarks []facemesh.Point `json:"landmarks" validate:"omitempty,max=512"`
	Mesh      [][2]float64     `json:"mesh" validate:"omitempty,max=1024"`
	Image     string           `json:"image" validate:"omitempty,base64"`
}

func (req FrameRequest) frame() (game.Frame, error) {
	payloads := 0
	for _, set := range []bool{req.NoFace, len(req.Landmarks) > 0, len(req.Mesh) > 0, req.Image != ""} {
		if set {
			payloads++
		}
	}
	if payloads != 1 {
		return game.Frame{}, errFramePayload
	}

	frame := game.Frame{RoundID: req.RoundID, NoFace: req.NoFace}
	switch {
	case len(req.Landmarks) > 0:
		frame.Landmarks = &facemesh.LandmarkSet{Points: req.Landmarks}
	case len(req.Mesh) > 0:
		set := facemesh.FromMesh(req.Mesh)
		frame.Landmarks = &set
	case req.Image != "":
		img, err := base64.StdEncoding.DecodeString(req.Image)
		if err != nil {
			return game.Frame{}, fmt.Errorf("decoding image: %w", err)
		}
		frame.Image = img
	}
	return frame, nil
}

type SubmitScoreRequest struct {
	Score int `json:"score" validate:"gte=0,lte=1000000"`
}

type HighScoreResponse struct {
	Mode      highscore.Mode `json:"mode"`
	HighScore int            `json:"highScore"`
	Updated   *bool          `json:"updated,omitempty"`
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
}
