package protocol

import (
	"time"

	"github.com/loqalabs/loqa-dub/internal/transcript"
)

// Record namespaces in the handoff store. Keys are "{namespace}:{chunk id}".
const (
	NamespaceTranscript  = "transcript"
	NamespaceTranslation = "translation"
	NamespaceAudio       = "audio"
)

// Queue and channel names shared by the stage workers.
const (
	QueueTranscriptChunks = "transcript_chunk_queue"
	QueueTranslations     = "translation_queue"
	ChannelTranslations   = "translation_ready"
)

// Subjects for daemon job intake.
const (
	SubjectJobRequest = "dub.job.request"
	SubjectJobDone    = "dub.job.done"
)

// TranscriptKey names the stored payload of a source chunk.
func TranscriptKey(chunkID string) string { return NamespaceTranscript + ":" + chunkID }

// TranslationKey names the stored translated segments of a chunk.
func TranslationKey(chunkID string) string { return NamespaceTranslation + ":" + chunkID }

// AudioKey names the stored audio of a chunk.
func AudioKey(chunkID string) string { return NamespaceAudio + ":" + chunkID }

// TranscriptChunk is the record written by the seed stage.
type TranscriptChunk struct {
	ID      string             `json:"id"`
	Index   int                `json:"index"`
	Entries []transcript.Entry `json:"entries"`
}

// TranslatedChunk is the record written by the translation worker.
type TranslatedChunk struct {
	ID       string               `json:"id"`
	Index    int                  `json:"index"`
	Segments []transcript.Segment `json:"segments"`
}

// JobRequest asks the daemon to dub one transcript.
type JobRequest struct {
	JobID   string             `json:"job_id,omitempty"`
	Scope   string             `json:"scope"`
	Entries []transcript.Entry `json:"entries"`
}

// JobDone reports the outcome of a job.
type JobDone struct {
	JobID     string    `json:"job_id"`
	RunID     string    `json:"run_id,omitempty"`
	Scope     string    `json:"scope"`
	ChunkIDs  []string  `json:"chunk_ids"`
	Missing   []string  `json:"missing,omitempty"`
	Error     string    `json:"error,omitempty"`
	Completed time.Time `json:"completed"`
}
