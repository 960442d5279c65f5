package db

import (
	"time"
)

// Definition status constants
const (
	DefinitionActive = "active"
	DefinitionPaused = "paused"
)

// Assignment mode constants
const (
	AssignFixed            = "fixed"
	AssignRotation         = "rotation"
	AssignFairDistribution = "fair-distribution"
)

// Queue item status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusSent       = "sent"
	StatusFailed     = "failed"
)

// Delivery channel constants
const (
	ChannelEmail    = "email"
	ChannelPush     = "push"
	ChannelTelegram = "telegram"
	ChannelInApp    = "inApp"
)

// Notification priority levels; higher drains first.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
)

// Exception type constants
const (
	ExceptionSkip   = "skip"
	ExceptionModify = "modify"
)

// InstanceScheduled is the status materialized instances start in. Later
// transitions (done, cancelled) belong to the interactive layer.
const InstanceScheduled = "scheduled"

// RecurringDefinition is a tenant-scoped recurring activity template, the
// input to materialization. The materializer only ever mutates
// lastGeneratedDate and currentRotationIndex.
type RecurringDefinition struct {
	ID                   string     `bson:"_id" json:"id"`
	TenantID             string     `bson:"tenantId" json:"tenant_id"`
	Title                string     `bson:"title" json:"title"`
	ActivityType         string     `bson:"activityType" json:"activity_type"`
	Rule                 string     `bson:"rule" json:"rule"`
	PatternStart         time.Time  `bson:"patternStart" json:"pattern_start"`
	PatternEnd           *time.Time `bson:"patternEnd,omitempty" json:"pattern_end,omitempty"`
	GenerateDaysAhead    int        `bson:"generateDaysAhead" json:"generate_days_ahead"`
	TimeOfDay            string     `bson:"timeOfDay" json:"time_of_day"`
	DurationMinutes      int        `bson:"durationMinutes" json:"duration_minutes"`
	AssignmentMode       string     `bson:"assignmentMode" json:"assignment_mode"`
	AssignedTo           string     `bson:"assignedTo,omitempty" json:"assigned_to,omitempty"`
	RotationGroup        []string   `bson:"rotationGroup,omitempty" json:"rotation_group,omitempty"`
	CurrentRotationIndex int        `bson:"currentRotationIndex" json:"current_rotation_index"`
	Weight               float64    `bson:"weight" json:"weight"`
	HolidayWeightEnabled bool       `bson:"holidayWeightEnabled" json:"holiday_weight_enabled"`
	HolidayWeightFactor  float64    `bson:"holidayWeightFactor,omitempty" json:"holiday_weight_factor,omitempty"`
	LastGeneratedDate    string     `bson:"lastGeneratedDate,omitempty" json:"last_generated_date,omitempty"`
	Status               string     `bson:"status" json:"status"`
	CreatedAt            time.Time  `bson:"createdAt" json:"created_at"`
	UpdatedAt            time.Time  `bson:"updatedAt" json:"updated_at"`
}

// ActivityException adjusts a single date of a definition. Skip drops the
// date; modify overrides whichever of the pointer fields are set.
type ActivityException struct {
	ID           string  `bson:"_id" json:"id"`
	DefinitionID string  `bson:"definitionId" json:"definition_id"`
	Date         string  `bson:"date" json:"date"` // YYYY-MM-DD
	Type         string  `bson:"type" json:"type"`
	Title        *string `bson:"title,omitempty" json:"title,omitempty"`
	TimeOfDay    *string `bson:"timeOfDay,omitempty" json:"time_of_day,omitempty"`
	AssignedTo   *string `bson:"assignedTo,omitempty" json:"assigned_to,omitempty"`
}

// ActivityInstance is one concrete dated occurrence of a definition. The
// composite _id (definition id + date) makes generation idempotent: writing
// the same occurrence twice is a no-op.
type ActivityInstance struct {
	ID              string    `bson:"_id" json:"id"`
	TenantID        string    `bson:"tenantId" json:"tenant_id"`
	DefinitionID    string    `bson:"definitionId" json:"definition_id"`
	Title           string    `bson:"title" json:"title"`
	ActivityType    string    `bson:"activityType" json:"activity_type"`
	Date            string    `bson:"date" json:"date"` // YYYY-MM-DD
	TimeOfDay       string    `bson:"timeOfDay" json:"time_of_day"`
	DurationMinutes int       `bson:"durationMinutes" json:"duration_minutes"`
	AssignedTo      string    `bson:"assignedTo,omitempty" json:"assigned_to,omitempty"`
	AssigneeName    string    `bson:"assigneeName,omitempty" json:"assignee_name,omitempty"`
	Weight          float64   `bson:"weight" json:"weight"`
	HolidayShift    bool      `bson:"holidayShift" json:"holiday_shift"`
	FromException   bool      `bson:"fromException,omitempty" json:"from_exception,omitempty"`
	Status          string    `bson:"status" json:"status"`
	CreatedAt       time.Time `bson:"createdAt" json:"created_at"`
}

// InstanceID builds the composite instance key for a definition and date.
func InstanceID(definitionID, date string) string {
	return definitionID + "_" + date
}

// Notification is the parent in-app notification document. deliveryStatus
// collects the terminal outcome per channel as queue items finish.
type Notification struct {
	ID             string            `bson:"_id" json:"id"`
	TenantID       string            `bson:"tenantId" json:"tenant_id"`
	UserID         string            `bson:"userId" json:"user_id"`
	Title          string            `bson:"title" json:"title"`
	Body           string            `bson:"body" json:"body"`
	Priority       int               `bson:"priority" json:"priority"`
	DeliveryStatus map[string]string `bson:"deliveryStatus,omitempty" json:"delivery_status,omitempty"`
	Read           bool              `bson:"read" json:"read"`
	ReadAt         *time.Time        `bson:"readAt,omitempty" json:"read_at,omitempty"`
	CreatedAt      time.Time         `bson:"createdAt" json:"created_at"`
}

// QueueItem is one pending delivery of a notification over one channel. Its
// schema is the contract between producers (reminder scan, CRUD layer) and
// the delivery processor.
type QueueItem struct {
	ID             string     `bson:"_id" json:"id"`
	NotificationID string     `bson:"notificationId" json:"notification_id"`
	TenantID       string     `bson:"tenantId" json:"tenant_id"`
	UserID         string     `bson:"userId" json:"user_id"`
	Channel        string     `bson:"channel" json:"channel"`
	Target         string     `bson:"target,omitempty" json:"target,omitempty"`
	Title          string     `bson:"title" json:"title"`
	Body           string     `bson:"body" json:"body"`
	Priority       int        `bson:"priority" json:"priority"`
	Status         string     `bson:"status" json:"status"`
	Attempts       int        `bson:"attempts" json:"attempts"`
	MaxAttempts    int        `bson:"maxAttempts" json:"max_attempts"`
	ScheduledFor   *time.Time `bson:"scheduledFor,omitempty" json:"scheduled_for,omitempty"`
	LastError      *string    `bson:"lastError,omitempty" json:"last_error,omitempty"`
	CreatedAt      time.Time  `bson:"createdAt" json:"created_at"`
	UpdatedAt      time.Time  `bson:"updatedAt" json:"updated_at"`
}

// UserPreferences stores a user's delivery targets. Targets are pruned here
// when a channel reports them permanently dead.
type UserPreferences struct {
	UserID          string    `bson:"_id" json:"user_id"`
	TenantID        string    `bson:"tenantId" json:"tenant_id"`
	Email           string    `bson:"email,omitempty" json:"email,omitempty"`
	PushTokens      []string  `bson:"pushTokens,omitempty" json:"push_tokens,omitempty"`
	TelegramChatID  int64     `bson:"telegramChatId,omitempty" json:"telegram_chat_id,omitempty"`
	QuietHoursStart string    `bson:"quietHoursStart,omitempty" json:"quiet_hours_start,omitempty"` // HH:MM
	QuietHoursEnd   string    `bson:"quietHoursEnd,omitempty" json:"quiet_hours_end,omitempty"`     // HH:MM
	UpdatedAt       time.Time `bson:"updatedAt" json:"updated_at"`
}

// Member is a tenant roster entry, used to denormalize assignee display
// names onto instances.
type Member struct {
	ID       string `bson:"_id" json:"id"`
	TenantID string `bson:"tenantId" json:"tenant_id"`
	Name     string `bson:"name" json:"name"`
}
