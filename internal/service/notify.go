package service

import "context"

// ProgressNotifier pushes form progress to connected browsers.
type ProgressNotifier interface {
	VariationReady(formID string, songIndex int, variationID, audioURL string)
	FormReady(formID string, songIndex int)
}

// AudioArchiver schedules finished audio for mirroring into object storage.
type AudioArchiver interface {
	EnqueueArchive(ctx context.Context, taskID string, slot int, audioURL string) error
}

type nopNotifier struct{}

func (nopNotifier) VariationReady(string, int, string, string) {}
func (nopNotifier) FormReady(string, int) {}

type nopArchiver struct{}

func (nopArchiver) EnqueueArchive(context.Context, string, int, string) error { return nil }
