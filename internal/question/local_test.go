package question

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func collectEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for local source event")
		return Event{}
	}
}

func TestLocalSourceWalksBankInOrderAndWraps(t *testing.T) {
	src := NewLocalSource(Defaults(), 0, nil)
	t.Cleanup(func() { _ = src.Close() })

	err := src.Open(context.Background(), Params{Topic: "DSA & Algos", Level: LevelMid})
	require.NoError(t, err)

	prompts, err := Defaults().Prompts("DSA & Algos")
	require.NoError(t, err)

	first := collectEvent(t, src.Events())
	require.Equal(t, EventQuestion, first.Kind)
	require.Equal(t, prompts[0], first.Question)

	for i := 1; i < len(prompts)+2; i++ {
		require.NoError(t, src.SubmitAnswer(context.Background(), "answer"))
		event := collectEvent(t, src.Events())
		require.Equal(t, EventQuestion, event.Kind)
		require.Equal(t, prompts[i%len(prompts)], event.Question, "question %d", i)
	}
}

func TestLocalSourceUnknownTopicUsesDefaultBank(t *testing.T) {
	src := NewLocalSource(Defaults(), 0, nil)
	t.Cleanup(func() { _ = src.Close() })

	require.NoError(t, src.Open(context.Background(), Params{Topic: "Underwater Basketry"}))

	behavioral, err := Defaults().Prompts(DefaultTopic)
	require.NoError(t, err)

	event := collectEvent(t, src.Events())
	require.Equal(t, behavioral[0], event.Question)
}

func TestLocalSourceReportShape(t *testing.T) {
	src := NewLocalSource(Defaults(), 0, nil)
	t.Cleanup(func() { _ = src.Close() })

	require.NoError(t, src.Open(context.Background(), Params{Topic: "Behavioral"}))
	collectEvent(t, src.Events())

	require.NoError(t, src.SubmitAnswer(context.Background(), "first answer"))
	collectEvent(t, src.Events())
	require.NoError(t, src.SubmitAnswer(context.Background(), "second answer"))
	collectEvent(t, src.Events())

	require.NoError(t, src.RequestReport(context.Background()))
	event := collectEvent(t, src.Events())
	require.Equal(t, EventReport, event.Kind)
	require.NotNil(t, event.Report)

	report := event.Report
	require.Equal(t, 70, report.Score)
	require.Contains(t, report.Feedback, "2 question(s)")
	require.NotEmpty(t, report.Strengths)
	require.NotEmpty(t, report.Weaknesses)
	require.Equal(t, "first answer second answer", report.Transcript)
	require.Equal(t, ProvenanceLocal, report.Provenance)
}

func TestLocalSourceScoreCapsAt85(t *testing.T) {
	src := NewLocalSource(Defaults(), 0, nil)
	t.Cleanup(func() { _ = src.Close() })

	require.NoError(t, src.Open(context.Background(), Params{Topic: "Behavioral"}))
	collectEvent(t, src.Events())

	for i := 0; i < 8; i++ {
		require.NoError(t, src.SubmitAnswer(context.Background(), "answer"))
		collectEvent(t, src.Events())
	}

	require.NoError(t, src.RequestReport(context.Background()))
	event := collectEvent(t, src.Events())
	require.Equal(t, 85, event.Report.Score)
}

func TestLocalSourceSimulatedLatency(t *testing.T) {
	src := NewLocalSource(Defaults(), 50*time.Millisecond, nil)
	t.Cleanup(func() { _ = src.Close() })

	started := time.Now()
	require.NoError(t, src.Open(context.Background(), Params{Topic: "Behavioral"}))
	collectEvent(t, src.Events())
	require.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)
}

func TestLocalSourceCloseIsIdempotentAndStopsEvents(t *testing.T) {
	src := NewLocalSource(Defaults(), 20*time.Millisecond, nil)

	require.NoError(t, src.Open(context.Background(), Params{Topic: "Behavioral"}))
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	// The scheduled opening question must not arrive after close.
	select {
	case event := <-src.Events():
		t.Fatalf("unexpected event after close: %v", event.Kind)
	case <-time.After(80 * time.Millisecond):
	}

	require.ErrorIs(t, src.SubmitAnswer(context.Background(), "late"), ErrSourceClosed)
	require.ErrorIs(t, src.RequestReport(context.Background()), ErrSourceClosed)
}

func TestLocalSourceRejectsUseBeforeOpen(t *testing.T) {
	src := NewLocalSource(Defaults(), 0, nil)
	require.ErrorIs(t, src.SubmitAnswer(context.Background(), "early"), ErrSourceClosed)
	require.ErrorIs(t, src.RequestReport(context.Background()), ErrSourceClosed)
}
