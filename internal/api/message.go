package api

import (
	"gccnmf/internal/control"
	"gccnmf/internal/device"
	"gccnmf/internal/dictionary"
)

// Message is the one wire type exchanged over the websocket in both
// directions, matching the teacher's single tagged-union Message
// struct (internal/api/server.go). Fields unused by a given Type are
// omitted from the JSON encoding.
type Message struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId,omitempty"`
	Error    string `json:"error,omitempty"`

	Params  *ParamsSnapshot `json:"params,omitempty"`
	Delta   *ParamsDelta    `json:"delta,omitempty"`
	Devices []device.Info   `json:"devices,omitempty"`
	History *HistoryPayload `json:"history,omitempty"`
}

// ParamsSnapshot mirrors control.Params for outgoing get_params/params
// replies: every field always present, matching the teacher's
// SessionInfo-style full-state responses.
type ParamsSnapshot struct {
	TargetTDOAIndex              float64 `json:"targetTDOAIndex"`
	TargetTDOAEpsilon            float64 `json:"targetTDOAEpsilon"`
	TargetTDOABeta               float64 `json:"targetTDOABeta"`
	TargetTDOANoiseFloor         float64 `json:"targetTDOANoiseFloor"`
	DictionarySize               int     `json:"dictionarySize"`
	DictionaryType               string  `json:"dictionaryType"`
	MicrophoneSeparationInMetres float64 `json:"microphoneSeparationInMetres"`
	NumTDOAs                     int     `json:"numTDOAs"`
	SeparationEnabled            bool    `json:"separationEnabled"`
	AudioPlaybackGain            float64 `json:"audioPlaybackGain"`
	AudioPlayingFlag             bool    `json:"audioPlayingFlag"`
	FileName                     string  `json:"fileName"`
}

// ParamsDelta is a client's set_param request: every field is a
// pointer, present only for the fields the client wants to change, so
// the server can distinguish "set to zero" from "leave alone" and
// report exactly those field names to control.Namespace's dirty list
// (spec.md §4.8).
type ParamsDelta struct {
	TargetTDOAIndex              *float64 `json:"targetTDOAIndex,omitempty"`
	TargetTDOAEpsilon            *float64 `json:"targetTDOAEpsilon,omitempty"`
	TargetTDOABeta               *float64 `json:"targetTDOABeta,omitempty"`
	TargetTDOANoiseFloor         *float64 `json:"targetTDOANoiseFloor,omitempty"`
	DictionarySize               *int     `json:"dictionarySize,omitempty"`
	DictionaryType               *string  `json:"dictionaryType,omitempty"`
	MicrophoneSeparationInMetres *float64 `json:"microphoneSeparationInMetres,omitempty"`
	NumTDOAs                     *int     `json:"numTDOAs,omitempty"`
	SeparationEnabled            *bool    `json:"separationEnabled,omitempty"`
	AudioPlaybackGain            *float64 `json:"audioPlaybackGain,omitempty"`
	FileName                     *string  `json:"fileName,omitempty"`
}

// HistoryPayload carries a snapshot of the C1 ring buffers for display,
// per spec.md §4.8 ("UI reads from C1"). Each field is oldest-to-newest
// ordered, matching ringbuffer.Buffer.Unraveled.
type HistoryPayload struct {
	InputSpectrogram  [][]float64 `json:"inputSpectrogram,omitempty"`
	OutputSpectrogram [][]float64 `json:"outputSpectrogram,omitempty"`
	GCCPHAT           [][]float64 `json:"gccPHAT,omitempty"`
	CoefficientMask   [][]float64 `json:"coefficientMask,omitempty"`
	Underruns         int         `json:"underruns"`
}

func snapshotParams(ns *control.Namespace) *ParamsSnapshot {
	p := ns.Snapshot()
	return &ParamsSnapshot{
		TargetTDOAIndex:              p.TargetTDOAIndex,
		TargetTDOAEpsilon:            p.TargetTDOAEpsilon,
		TargetTDOABeta:               p.TargetTDOABeta,
		TargetTDOANoiseFloor:         p.TargetTDOANoiseFloor,
		DictionarySize:               p.DictionarySize,
		DictionaryType:               dictionaryTypeName(p.DictionaryType),
		MicrophoneSeparationInMetres: p.MicrophoneSeparationInMetres,
		NumTDOAs:                     p.NumTDOAs,
		SeparationEnabled:            p.SeparationEnabled,
		AudioPlaybackGain:            p.AudioPlaybackGain,
		AudioPlayingFlag:             p.AudioPlayingFlag,
		FileName:                     p.FileName,
	}
}

func dictionaryTypeName(t dictionary.Type) string {
	if t == dictionary.Random {
		return "Random"
	}
	return "Pretrained"
}

// applyDelta writes every non-nil field of delta into ns, collecting
// the touched field names so control.Namespace can decide whether a
// rebuild is due (spec.md §4.8's dirty-name list and
// control.RebuildFields). The field list is computed up front, since
// Namespace.Set's variadic fields argument is evaluated at the call
// site, before the mutate closure passed alongside it ever runs.
func applyDelta(ns *control.Namespace, delta ParamsDelta) []string {
	var fields []string
	if delta.TargetTDOAIndex != nil {
		fields = append(fields, "TargetTDOAIndex")
	}
	if delta.TargetTDOAEpsilon != nil {
		fields = append(fields, "TargetTDOAEpsilon")
	}
	if delta.TargetTDOABeta != nil {
		fields = append(fields, "TargetTDOABeta")
	}
	if delta.TargetTDOANoiseFloor != nil {
		fields = append(fields, "TargetTDOANoiseFloor")
	}
	if delta.DictionarySize != nil {
		fields = append(fields, "DictionarySize")
	}
	if delta.DictionaryType != nil {
		fields = append(fields, "DictionaryType")
	}
	if delta.MicrophoneSeparationInMetres != nil {
		fields = append(fields, "MicrophoneSeparationInMetres")
	}
	if delta.NumTDOAs != nil {
		fields = append(fields, "NumTDOAs")
	}
	if delta.SeparationEnabled != nil {
		fields = append(fields, "SeparationEnabled")
	}
	if delta.AudioPlaybackGain != nil {
		fields = append(fields, "AudioPlaybackGain")
	}
	if delta.FileName != nil {
		fields = append(fields, "FileName")
	}

	ns.Set(func(p *control.Params) {
		if v := delta.TargetTDOAIndex; v != nil {
			p.TargetTDOAIndex = *v
		}
		if v := delta.TargetTDOAEpsilon; v != nil {
			p.TargetTDOAEpsilon = *v
		}
		if v := delta.TargetTDOABeta; v != nil {
			p.TargetTDOABeta = *v
		}
		if v := delta.TargetTDOANoiseFloor; v != nil {
			p.TargetTDOANoiseFloor = *v
		}
		if v := delta.DictionarySize; v != nil {
			p.DictionarySize = *v
		}
		if v := delta.DictionaryType; v != nil {
			if *v == "Random" {
				p.DictionaryType = dictionary.Random
			} else {
				p.DictionaryType = dictionary.Pretrained
			}
		}
		if v := delta.MicrophoneSeparationInMetres; v != nil {
			p.MicrophoneSeparationInMetres = *v
		}
		if v := delta.NumTDOAs; v != nil {
			p.NumTDOAs = *v
		}
		if v := delta.SeparationEnabled; v != nil {
			p.SeparationEnabled = *v
		}
		if v := delta.AudioPlaybackGain; v != nil {
			p.AudioPlaybackGain = *v
		}
		if v := delta.FileName; v != nil {
			p.FileName = *v
		}
	}, fields...)

	return fields
}
