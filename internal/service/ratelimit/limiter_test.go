package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoryLimiter_GeneralLimit(t *testing.T) {
	l := NewMemoryLimiter()

	for i := 0; i < DefaultLimit; i++ {
		if !l.Allow(NamespaceGeneral, "1.2.3.4") {
			t.Fatalf("request %d must be allowed", i+1)
		}
	}
	if l.Allow(NamespaceGeneral, "1.2.3.4") {
		t.Error("request above the limit must be throttled")
	}

	// Другой клиент считается отдельно.
	if !l.Allow(NamespaceGeneral, "5.6.7.8") {
		t.Error("different client must have its own window")
	}
}

func TestMemoryLimiter_WebhookNamespaceIsIsolated(t *testing.T) {
	l := NewMemoryLimiter()

	// Исчерпываем общий лимит клиента.
	for i := 0; i < DefaultLimit+1; i++ {
		l.Allow(NamespaceGeneral, "1.2.3.4")
	}

	// Webhook namespace того же клиента живёт своим счётчиком.
	for i := 0; i < WebhookLimit; i++ {
		if !l.Allow(NamespaceWebhook, "1.2.3.4") {
			t.Fatalf("webhook request %d must be allowed", i+1)
		}
	}
	if l.Allow(NamespaceWebhook, "1.2.3.4") {
		t.Error("webhook request above the limit must be throttled")
	}
}

func TestMemoryLimiter_WindowRollover(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter()
	l.now = func() time.Time { return now }

	for i := 0; i < DefaultLimit; i++ {
		l.Allow(NamespaceGeneral, "1.2.3.4")
	}
	if l.Allow(NamespaceGeneral, "1.2.3.4") {
		t.Fatal("limit must be exhausted")
	}

	// Новое окно обнуляет счётчик.
	now = now.Add(DefaultWindow)
	if !l.Allow(NamespaceGeneral, "1.2.3.4") {
		t.Error("new window must reset the counter")
	}
}

func TestMemoryLimiter_CustomNamespaceLimit(t *testing.T) {
	l := NewMemoryLimiter(WithNamespaceLimit("admin", 2))

	if !l.Allow("admin", "k") || !l.Allow("admin", "k") {
		t.Fatal("first two requests must be allowed")
	}
	if l.Allow("admin", "k") {
		t.Error("third request must be throttled")
	}
}

func TestMemoryLimiter_PruneOnOverflow(t *testing.T) {
	now := time.Now()
	l := NewMemoryLimiter(WithMaxEntries(5))
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		l.Allow(NamespaceGeneral, fmt.Sprintf("client-%d", i))
	}

	// После сдвига времени старые окна вычищаются, новый клиент проходит.
	now = now.Add(DefaultWindow + time.Second)
	if !l.Allow(NamespaceGeneral, "fresh-client") {
		t.Error("fresh client must be allowed after prune")
	}
	l.mu.Lock()
	entries := len(l.windows)
	l.mu.Unlock()
	if entries != 1 {
		t.Errorf("expected stale windows pruned, got %d entries", entries)
	}
}
