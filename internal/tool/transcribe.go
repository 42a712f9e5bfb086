package tool

import "context"

// TranscribeAudioTool is a deliberate stub: voice messages pass their file
// reference through, but no transcription backend is wired up.
type TranscribeAudioTool struct{}

func (t *TranscribeAudioTool) Name() string { return "transcribeAudio" }

func (t *TranscribeAudioTool) Execute(_ context.Context, args Args) (any, error) {
	if _, err := args.String("file_id"); err != nil {
		return nil, err
	}
	return map[string]any{
		"transcription": "[Transcrição de áudio não disponível]",
	}, nil
}
