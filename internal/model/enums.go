package model

import "strings"

// Compose form lifecycle
type FormStatus string

const (
	FormStatusPromptsGenerated     FormStatus = "prompts_generated"
	FormStatusVariationsGenerating FormStatus = "variations_generating"
	FormStatusVariationsReady      FormStatus = "variations_ready"
	FormStatusPaymentSuccessful    FormStatus = "payment_successful"
	FormStatusDelivered            FormStatus = "delivered"
)

var ValidFormStatuses = []FormStatus{
	FormStatusPromptsGenerated, FormStatusVariationsGenerating, FormStatusVariationsReady,
	FormStatusPaymentSuccessful, FormStatusDelivered,
}

func (s FormStatus) Valid() bool {
	for _, v := range ValidFormStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// ExpectedVariationCount is the number of audio variations a song needs before
// its form is considered ready. It is fixed, not derived from the task list.
const ExpectedVariationCount = 3

// Generation status (internal, lowercase vocabulary)
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationInProgress GenerationStatus = "in_progress"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Provider status vocabulary
const (
	ProviderStatusCompleted  = "COMPLETED"
	ProviderStatusFailed     = "FAILED"
	ProviderStatusInProgress = "IN_PROGRESS"
)

// GenerationStatusFromProvider maps the provider's uppercase status onto ours.
// Anything unknown is treated as pending.
func GenerationStatusFromProvider(s string) GenerationStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case ProviderStatusCompleted:
		return GenerationCompleted
	case ProviderStatusFailed:
		return GenerationFailed
	case ProviderStatusInProgress:
		return GenerationInProgress
	default:
		return GenerationPending
	}
}

// Order status
const (
	OrderStatusCompleted = "completed"
)

// Status poller defaults
const (
	DefaultConversionType = "MUSIC_AI"
	DefaultIDType         = "task_id"
)
