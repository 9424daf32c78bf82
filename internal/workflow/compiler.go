package workflow

import (
	"fmt"
	"time"

	"github.com/dunamismax/charforge/internal/domain"
)

// Node ids follow the engine's reference character workflow.
const (
	NodeSampler    = "3"
	NodeCheckpoint = "4"
	NodeLatent     = "5"
	NodePositive   = "6"
	NodeNegative   = "7"
	NodeDecode     = "8"
	NodeSave       = "9"
	NodeLightning  = "10"
	NodeStyle      = "11"

	SamplerName = "euler"
	Scheduler   = "sgm_uniform"

	// seedModulus bounds derived seeds to [0, 2^31-1).
	seedModulus = 2147483647
)

type Options struct {
	Checkpoint        string
	StyleLoRA         string
	StyleLoRAStrength float64
	FilenamePrefix    string
}

func DefaultOptions() Options {
	return Options{
		Checkpoint:        "RealVisXL_V5.0.safetensors",
		StyleLoRA:         "Concept_Art_XL.safetensors",
		StyleLoRAStrength: 0.7,
		FilenamePrefix:    "character",
	}
}

type Compiler struct {
	Options Options
	Now     func() time.Time
}

func NewCompiler(opts Options) *Compiler {
	return &Compiler{Options: opts, Now: time.Now}
}

// LightningLoRA names the step-distilled adapter matching the step count.
func LightningLoRA(steps int) string {
	return fmt.Sprintf("sdxl_lightning_%dstep_lora.safetensors", steps)
}

// ResolveSeed returns the explicit seed, or one derived from the clock.
// Two calls in the same microsecond without a seed collide.
func (c *Compiler) ResolveSeed(seed *int64) int64 {
	if seed != nil {
		return *seed
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().UnixMicro() % seedModulus
}

// Compile builds the fixed character graph for req using preset. The prompt
// fields are used verbatim.
func (c *Compiler) Compile(req domain.JobRequest, preset domain.Preset) Graph {
	seed := c.ResolveSeed(req.Seed)
	opts := c.Options

	return Graph{
		NodeSampler: {
			ClassType: "KSampler",
			Inputs: map[string]Input{
				"seed":         Literal(seed),
				"steps":        Literal(preset.Steps),
				"cfg":          Literal(preset.CFG),
				"sampler_name": Literal(SamplerName),
				"scheduler":    Literal(Scheduler),
				"denoise":      Literal(1.0),
				"model":        Link(NodeStyle, 0),
				"positive":     Link(NodePositive, 0),
				"negative":     Link(NodeNegative, 0),
				"latent_image": Link(NodeLatent, 0),
			},
		},
		NodeCheckpoint: {
			ClassType: "CheckpointLoaderSimple",
			Inputs: map[string]Input{
				"ckpt_name": Literal(opts.Checkpoint),
			},
		},
		NodeLatent: {
			ClassType: "EmptyLatentImage",
			Inputs: map[string]Input{
				"width":      Literal(req.Width),
				"height":     Literal(req.Height),
				"batch_size": Literal(1),
			},
		},
		NodePositive: {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]Input{
				"text": Literal(req.Prompt),
				"clip": Link(NodeStyle, 1),
			},
		},
		NodeNegative: {
			ClassType: "CLIPTextEncode",
			Inputs: map[string]Input{
				"text": Literal(req.NegativePrompt),
				"clip": Link(NodeStyle, 1),
			},
		},
		NodeDecode: {
			ClassType: "VAEDecode",
			Inputs: map[string]Input{
				"samples": Link(NodeSampler, 0),
				"vae":     Link(NodeCheckpoint, 2),
			},
		},
		NodeSave: {
			ClassType: "SaveImage",
			Inputs: map[string]Input{
				"filename_prefix": Literal(opts.FilenamePrefix),
				"images":          Link(NodeDecode, 0),
			},
		},
		NodeLightning: {
			ClassType: "LoraLoader",
			Inputs: map[string]Input{
				"lora_name":      Literal(LightningLoRA(preset.Steps)),
				"strength_model": Literal(1.0),
				"strength_clip":  Literal(1.0),
				"model":          Link(NodeCheckpoint, 0),
				"clip":           Link(NodeCheckpoint, 1),
			},
		},
		NodeStyle: {
			ClassType: "LoraLoader",
			Inputs: map[string]Input{
				"lora_name":      Literal(opts.StyleLoRA),
				"strength_model": Literal(opts.StyleLoRAStrength),
				"strength_clip":  Literal(opts.StyleLoRAStrength),
				"model":          Link(NodeLightning, 0),
				"clip":           Link(NodeLightning, 1),
			},
		},
	}
}
