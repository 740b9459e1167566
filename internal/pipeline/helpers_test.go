package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/model"
	"gazette-pipeline/internal/webhook"
)

func TestBackoffFor_DoublesPerDelivery(t *testing.T) {
	require.Equal(t, time.Second, backoffFor(1))
	require.Equal(t, 2*time.Second, backoffFor(2))
	require.Equal(t, 4*time.Second, backoffFor(3))
}

func TestBackoffFor_ClampsBelowOne(t *testing.T) {
	require.Equal(t, time.Second, backoffFor(0))
	require.Equal(t, time.Second, backoffFor(-5))
}

func TestCrawlMessageJobID_IsDeterministic(t *testing.T) {
	id1 := crawlMessageJobID("job-1", "gazette-1")
	id2 := crawlMessageJobID("job-1", "gazette-1")
	require.Equal(t, id1, id2)
	require.Equal(t, "job-1:gazette-1", id1)
}

func TestOptionalString_EmptyIsNil(t *testing.T) {
	require.Nil(t, optionalString(""))
	require.Equal(t, "x", *optionalString("x"))
}

func TestConfigHash_StableAcrossKeyOrder(t *testing.T) {
	a := ConfigHash(map[string]any{"keyword": true, "entity": false, "model": "gpt-4"})
	b := ConfigHash(map[string]any{"model": "gpt-4", "entity": false, "keyword": true})
	require.Equal(t, a, b)
}

func TestConfigHash_DiffersWhenValueChanges(t *testing.T) {
	a := ConfigHash(map[string]any{"keyword": true})
	b := ConfigHash(map[string]any{"keyword": false})
	require.NotEqual(t, a, b)
}

func TestAnalysisJobID_IsDeterministicAndPrefixed(t *testing.T) {
	id1 := analysisJobID("city-1", "gazette-1", "abc123")
	id2 := analysisJobID("city-1", "gazette-1", "abc123")
	require.Equal(t, id1, id2)
	require.True(t, strings.HasPrefix(id1, "analysis-"))
}

func TestAnalysisJobID_DiffersWhenInputsDiffer(t *testing.T) {
	id1 := analysisJobID("city-1", "gazette-1", "abc123")
	id2 := analysisJobID("city-2", "gazette-1", "abc123")
	require.NotEqual(t, id1, id2)
}

func TestOcrJobStatus(t *testing.T) {
	require.Equal(t, model.OcrJobSuccess, ocrJobStatus(true))
	require.Equal(t, model.OcrJobFailure, ocrJobStatus(false))
}

func TestOutcomeLabel(t *testing.T) {
	require.Equal(t, "completed", outcomeLabel(true))
	require.Equal(t, "failed", outcomeLabel(false))
}

func TestDerefOr_NilUsesFallback(t *testing.T) {
	require.Equal(t, "fallback", derefOr(nil, "fallback"))
	s := "value"
	require.Equal(t, "value", derefOr(&s, "fallback"))
}

func TestOutcomeToStatus(t *testing.T) {
	require.Equal(t, model.WebhookSent, outcomeToStatus(webhook.OutcomeSent))
	require.Equal(t, model.WebhookRetry, outcomeToStatus(webhook.OutcomeRetriable))
	require.Equal(t, model.WebhookFailed, outcomeToStatus(webhook.OutcomeFailed))
}

func TestNotificationField_ReadsFromTypedNotification(t *testing.T) {
	v, ok := notificationField(webhook.Notification{EventType: "analysis.completed"}, "eventType")
	require.True(t, ok)
	require.Equal(t, "analysis.completed", v)
}

func TestNotificationField_ReadsFromMap(t *testing.T) {
	v, ok := notificationField(map[string]any{"eventType": "analysis.completed"}, "eventType")
	require.True(t, ok)
	require.Equal(t, "analysis.completed", v)
}

func TestNotificationField_MissingFieldReturnsFalse(t *testing.T) {
	_, ok := notificationField(map[string]any{"eventType": "analysis.completed"}, "notificationId")
	require.False(t, ok)
}

func TestSummarize_ReportsCountsAcrossCategories(t *testing.T) {
	findings := []model.Finding{
		{Category: "concurso"},
		{Category: "licitacao"},
	}
	summary := summarize(findings)
	require.Contains(t, summary, "2 findings")
	require.Contains(t, summary, "2 categories")
}

func TestSummarize_EmptyFindingsReportsNone(t *testing.T) {
	require.Equal(t, "no findings", summarize(nil))
}

func TestUniqueCategoriesAndSortedKeys(t *testing.T) {
	findings := []model.Finding{
		{Category: "concurso"},
		{Category: "licitacao"},
		{Category: "concurso"},
	}
	cats := uniqueCategories(findings)
	require.Len(t, cats, 2)

	keys := sortedKeys(cats)
	require.Equal(t, []string{"concurso", "licitacao"}, keys)
}
