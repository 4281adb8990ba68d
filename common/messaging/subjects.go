package messaging

import "strings"

// Subject and stream naming for the specimen pipeline.
// Follow the pattern: specimen.{kind}.{name}
const (
	SubjectQueuePrefix = "specimen.queue."
	SubjectDLQPrefix   = "specimen.dlq."

	StreamPrefix = "SPECIMEN_"
	StreamDLQ    = "SPECIMEN_DLQ"
)

// Headers set on pipeline messages.
const (
	HeaderSpecimenID  = "Specimen-Id"
	HeaderContentType = "Content-Type"
)

// QueueSubject returns the subject a queue's messages are published on.
// Example: specimen.queue.morphometrics-in
func QueueSubject(queue string) string {
	return SubjectQueuePrefix + queue
}

// StreamName returns the stream backing a queue.
// Example: SPECIMEN_MORPHOMETRICS_IN
func StreamName(queue string) string {
	return StreamPrefix + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(queue))
}

// ConsumerName returns the durable consumer shared by a queue's competing consumers.
// Example: morphometrics-in-workers
func ConsumerName(queue string) string {
	return queue + "-workers"
}

// DLQSubject returns the dead letter subject for a failure reason.
// Example: specimen.dlq.malformed
func DLQSubject(reason string) string {
	return SubjectDLQPrefix + reason
}
