package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/compliance-engine/configs"
	"github.com/enterprise/compliance-engine/internal/queue"
)

// =============================================================================
// HYBRID ARCHITECTURE: Kafka CDC Compliance Pipeline
// =============================================================================
// This worker does NOT evaluate transactions (the API path handles that) and
// does NOT rescore users (the Redis review worker handles that).
// Instead, it captures compliance row changes for:
//   - Regulatory reporting feeds
//   - Real-time compliance dashboards
//   - Event replay capabilities
//   - Data warehouse sync
// =============================================================================

// DebeziumMessage represents a CDC event from Debezium
type DebeziumMessage struct {
	Before      json.RawMessage `json:"before"`
	After       json.RawMessage `json:"after"`
	Source      DebeziumSource  `json:"source"`
	Op          string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs        int64           `json:"ts_ms"`
	Transaction json.RawMessage `json:"transaction"`
}

// DebeziumSource contains metadata about the change
type DebeziumSource struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Snapshot  string `json:"snapshot"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	LSN       int64  `json:"lsn"`
}

// ScreeningLogCDC represents a screening log row from CDC
type ScreeningLogCDC struct {
	ID            string      `json:"id"`
	UserID        string      `json:"user_id"`
	TransactionID *string     `json:"transaction_id"`
	RuleCode      string      `json:"rule_code"`
	MatchFound    bool        `json:"match_found"`
	MatchScore    interface{} `json:"match_score"`
	CreatedAt     string      `json:"created_at"`
}

// CaseCDC represents a compliance case row from CDC
type CaseCDC struct {
	ID         string `json:"id"`
	CaseNumber string `json:"case_number"`
	UserID     string `json:"user_id"`
	CaseType   string `json:"case_type"`
	Status     string `json:"status"`
	Priority   string `json:"priority"`
	CreatedAt  string `json:"created_at"`
}

// ComplianceEvent represents a processed event for the dashboard feed
type ComplianceEvent struct {
	EventType    string                 `json:"event_type"`
	Table        string                 `json:"table"`
	UserID       string                 `json:"user_id"`
	RuleCode     string                 `json:"rule_code,omitempty"`
	CaseNumber   string                 `json:"case_number,omitempty"`
	Status       string                 `json:"status,omitempty"`
	PrevStatus   string                 `json:"prev_status,omitempty"`
	Priority     string                 `json:"priority,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	CDCTimestamp int64                  `json:"cdc_timestamp_ms"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// RealTimeMetrics tracks live compliance metrics
type RealTimeMetrics struct {
	mu               sync.RWMutex
	ScreeningEntries int64
	ScreeningMatches int64
	CasesOpened      int64
	CasesClosed      int64
	ViolationsByRule map[string]int64
	CasesByPriority  map[string]int64
	CaseTransitions  map[string]int64
	LastEventTime    time.Time
	EventsPerSecond  float64
	windowStart      time.Time
	windowCount      int64
}

func NewRealTimeMetrics() *RealTimeMetrics {
	return &RealTimeMetrics{
		ViolationsByRule: make(map[string]int64),
		CasesByPriority:  make(map[string]int64),
		CaseTransitions:  make(map[string]int64),
		windowStart:      time.Now(),
	}
}

func (m *RealTimeMetrics) RecordEvent(event *ComplianceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEventTime = time.Now()
	m.windowCount++

	// Calculate events per second
	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.EventsPerSecond = float64(m.windowCount) / elapsed
	}

	// Reset window every minute
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	switch event.EventType {
	case "screening_recorded":
		m.ScreeningEntries++
		if event.RuleCode != "" {
			m.ViolationsByRule[event.RuleCode]++
		}
		if event.Status == "match" {
			m.ScreeningMatches++
		}
	case "case_opened":
		m.CasesOpened++
		m.CasesByPriority[event.Priority]++
	case "case_updated":
		transition := event.PrevStatus + "->" + event.Status
		m.CaseTransitions[transition]++

		switch event.Status {
		case "closed", "dismissed":
			m.CasesClosed++
		}
	}
}

func (m *RealTimeMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"screening_entries":  m.ScreeningEntries,
		"screening_matches":  m.ScreeningMatches,
		"cases_opened":       m.CasesOpened,
		"cases_closed":       m.CasesClosed,
		"events_per_second":  m.EventsPerSecond,
		"violations_by_rule": m.ViolationsByRule,
		"cases_by_priority":  m.CasesByPriority,
		"case_transitions":   m.CaseTransitions,
		"last_event_time":    m.LastEventTime,
	}
}

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENVIRONMENT") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("🔄 Starting Kafka CDC Compliance Pipeline")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msg("This pipeline captures CDC events for dashboards & reporting.")
	log.Info().Msg("Rule evaluation and rescoring run on their own paths.")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	// Load configuration
	cfg := configs.Load()

	// Connect to Redis (for publishing dashboard metrics)
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	// Initialize real-time metrics
	metrics := NewRealTimeMetrics()

	// Create Kafka consumer
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Retry connecting to Kafka
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	// Create consumer handler
	handler := &CompliancePipelineHandler{
		metrics:     metrics,
		cacheClient: cacheClient,
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping compliance pipeline...")
		cancel()
	}()

	// Start metrics reporter (logs every 30 seconds)
	go handler.startMetricsReporter(ctx)

	// Start consuming
	log.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Strs("topics", cfg.Kafka.Topics).
		Str("group_id", cfg.Kafka.GroupID).
		Msg("📊 Compliance pipeline started - consuming CDC events")

	for {
		if err := consumerGroup.Consume(ctx, cfg.Kafka.Topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down compliance pipeline")
			return
		}
	}
}

// CompliancePipelineHandler processes CDC events for dashboards
type CompliancePipelineHandler struct {
	metrics     *RealTimeMetrics
	cacheClient *queue.CacheClient
}

func (h *CompliancePipelineHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Compliance pipeline session started")
	return nil
}

func (h *CompliancePipelineHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Compliance pipeline session ended")
	return nil
}

func (h *CompliancePipelineHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *CompliancePipelineHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	// Parse Debezium message
	var debeziumMsg DebeziumMessage
	if err := json.Unmarshal(message.Value, &debeziumMsg); err != nil {
		log.Error().Err(err).Msg("Failed to parse Debezium message")
		return
	}

	var event *ComplianceEvent
	switch debeziumMsg.Source.Table {
	case "screening_logs":
		event = h.screeningEvent(&debeziumMsg)
	case "compliance_cases":
		event = h.caseEvent(&debeziumMsg)
	default:
		log.Debug().Str("table", debeziumMsg.Source.Table).Msg("Ignoring CDC event from untracked table")
		return
	}

	if event == nil {
		return
	}

	// Record in real-time metrics
	h.metrics.RecordEvent(event)

	// Log the event with appropriate level
	h.logEvent(event)

	// Keep a dashboard feed of recent events
	h.storeDashboardEvent(ctx, event)
}

func (h *CompliancePipelineHandler) screeningEvent(msg *DebeziumMessage) *ComplianceEvent {
	// Screening logs are append-only; only creates are interesting
	if msg.Op != "c" && msg.Op != "r" {
		return nil
	}

	var entry ScreeningLogCDC
	if msg.After == nil {
		return nil
	}
	if err := json.Unmarshal(msg.After, &entry); err != nil {
		log.Error().Err(err).Msg("Failed to parse screening log from CDC payload")
		return nil
	}

	status := "clear"
	if entry.MatchFound {
		status = "match"
	}

	return &ComplianceEvent{
		EventType:    "screening_recorded",
		Table:        msg.Source.Table,
		UserID:       entry.UserID,
		RuleCode:     entry.RuleCode,
		Status:       status,
		Timestamp:    time.Now(),
		CDCTimestamp: msg.TsMs,
		Metadata: map[string]interface{}{
			"lsn":       msg.Source.LSN,
			"txId":      msg.Source.TxID,
			"connector": msg.Source.Connector,
		},
	}
}

func (h *CompliancePipelineHandler) caseEvent(msg *DebeziumMessage) *ComplianceEvent {
	var record CaseCDC
	var prev *CaseCDC

	if msg.After == nil {
		return nil
	}
	if err := json.Unmarshal(msg.After, &record); err != nil {
		log.Error().Err(err).Msg("Failed to parse case from CDC payload")
		return nil
	}

	if msg.Before != nil {
		prev = &CaseCDC{}
		if err := json.Unmarshal(msg.Before, prev); err != nil {
			prev = nil // Ignore parse errors for 'before'
		}
	}

	eventType := "case_updated"
	switch msg.Op {
	case "c", "r":
		eventType = "case_opened"
	}

	event := &ComplianceEvent{
		EventType:    eventType,
		Table:        msg.Source.Table,
		UserID:       record.UserID,
		CaseNumber:   record.CaseNumber,
		Status:       record.Status,
		Priority:     record.Priority,
		Timestamp:    time.Now(),
		CDCTimestamp: msg.TsMs,
		Metadata: map[string]interface{}{
			"lsn":       msg.Source.LSN,
			"txId":      msg.Source.TxID,
			"connector": msg.Source.Connector,
		},
	}

	if prev != nil {
		event.PrevStatus = prev.Status
	}

	return event
}

func (h *CompliancePipelineHandler) logEvent(event *ComplianceEvent) {
	switch event.EventType {
	case "screening_recorded":
		icon := "📥"
		if event.Status == "match" {
			icon = "🚨"
		}
		log.Info().
			Str("event", icon+" SCREENING").
			Str("rule_code", event.RuleCode).
			Str("status", event.Status).
			Msg("Screening entry captured")

	case "case_opened":
		log.Info().
			Str("event", "📂 CASE").
			Str("case_number", event.CaseNumber).
			Str("priority", event.Priority).
			Msg("Compliance case opened")

	case "case_updated":
		icon := "📝"
		if event.Status == "closed" || event.Status == "dismissed" {
			icon = "✅"
		}
		log.Info().
			Str("event", icon+" UPDATE").
			Str("case_number", event.CaseNumber).
			Str("status", event.PrevStatus+"→"+event.Status).
			Msg("Compliance case status changed")
	}
}

func (h *CompliancePipelineHandler) storeDashboardEvent(ctx context.Context, event *ComplianceEvent) {
	// In production, this would also:
	// 1. Feed the regulatory reporting pipeline
	// 2. Send to data lake (S3, GCS, etc.)
	// 3. Forward to SIEM system

	// For now, we'll cache the latest events in Redis for dashboard access
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return
	}

	// Store in Redis list (recent events)
	key := "compliance:recent_events"
	h.cacheClient.LPush(ctx, key, string(eventJSON))
	h.cacheClient.LTrim(ctx, key, 0, 999) // Keep last 1000 events
}

func (h *CompliancePipelineHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.GetSnapshot()
			log.Info().
				Int64("screening_entries", snapshot["screening_entries"].(int64)).
				Int64("screening_matches", snapshot["screening_matches"].(int64)).
				Int64("cases_opened", snapshot["cases_opened"].(int64)).
				Int64("cases_closed", snapshot["cases_closed"].(int64)).
				Float64("events_per_sec", snapshot["events_per_second"].(float64)).
				Msg("📊 Compliance Pipeline Metrics")

			// Publish the snapshot for the dashboard
			if err := h.cacheClient.Set(ctx, "compliance:realtime_metrics", snapshot, 2*time.Minute); err != nil {
				log.Warn().Err(err).Msg("Failed to publish metrics snapshot")
			}

		case <-ctx.Done():
			return
		}
	}
}
