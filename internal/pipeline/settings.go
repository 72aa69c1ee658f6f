package pipeline

import (
	"github.com/roelfdiedericks/tldr/internal/chunker"
	"github.com/roelfdiedericks/tldr/internal/config"
)

// SettingsFromConfig extracts the run settings from a loaded configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Source:          cfg.Source.SenderEmail,
		Recipient:       cfg.Delivery.TargetEmail,
		From:            cfg.SMTP.Username,
		SubjectPrefix:   cfg.Delivery.SubjectPrefix,
		ForwardOriginal: cfg.Delivery.ForwardOriginal,
		Model:           cfg.LLM.Model,
		TokenizerModel:  cfg.Chunking.TokenizerModel,
		SystemPrompt:    cfg.Summary.SystemPrompt,
		InitialContext:  cfg.Summary.InitialContext,
		Chunking: chunker.Options{
			MaxTokens:     cfg.Chunking.MaxTokensPerChunk,
			OverlapTokens: cfg.Chunking.OverlapTokens,
		},
	}
}
