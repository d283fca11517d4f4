package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

func TestStreamConfig_Jetstream(t *testing.T) {
	cfg := StreamConfig{
		Name:            "NOTIFICATIONS",
		Subjects:        []string{"notifications.>"},
		MaxAge:          24 * time.Hour,
		Storage:         "Memory",
		Replicas:        1,
		DuplicateWindow: 2 * time.Minute,
	}

	got := cfg.jetstream()
	if got.Storage != jetstream.MemoryStorage {
		t.Errorf("Storage = %v, want memory", got.Storage)
	}
	if got.Duplicates != 2*time.Minute {
		t.Errorf("Duplicates = %v, want 2m", got.Duplicates)
	}
	if got.Retention != jetstream.LimitsPolicy || got.Discard != jetstream.DiscardOld {
		t.Errorf("Retention/Discard = %v/%v", got.Retention, got.Discard)
	}

	cfg.Storage = "file"
	if cfg.jetstream().Storage != jetstream.FileStorage {
		t.Error("file storage expected")
	}
	cfg.Storage = "bogus"
	if cfg.jetstream().Storage != jetstream.FileStorage {
		t.Error("unknown storage should fall back to file")
	}
}

func TestConsumerConfig_Jetstream(t *testing.T) {
	single := DefaultRelayConfig().ConsumerConfig().jetstream()
	if single.FilterSubject != "notifications.inbound.>" || len(single.FilterSubjects) != 0 {
		t.Errorf("single filter = %q / %v", single.FilterSubject, single.FilterSubjects)
	}
	if single.Durable != "notifyguard-relay" || single.MaxDeliver != 5 {
		t.Errorf("Durable/MaxDeliver = %q/%d", single.Durable, single.MaxDeliver)
	}
	if single.AckPolicy != jetstream.AckExplicitPolicy || single.DeliverPolicy != jetstream.DeliverNewPolicy {
		t.Errorf("AckPolicy/DeliverPolicy = %v/%v", single.AckPolicy, single.DeliverPolicy)
	}

	multi := ConsumerConfig{
		Name:           "archive",
		FilterSubject:  "ignored.>",
		FilterSubjects: []string{"notifications.outbound.>", "notifications.suppressed.>"},
	}.jetstream()
	if multi.FilterSubject != "" {
		t.Errorf("FilterSubject = %q, want empty when several filters are set", multi.FilterSubject)
	}
	if len(multi.FilterSubjects) != 2 {
		t.Errorf("FilterSubjects = %v", multi.FilterSubjects)
	}

	none := ConsumerConfig{Name: "all"}.jetstream()
	if none.FilterSubject != "" || len(none.FilterSubjects) != 0 {
		t.Errorf("unfiltered consumer got %q / %v", none.FilterSubject, none.FilterSubjects)
	}
}
