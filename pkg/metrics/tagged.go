package metrics

// TaggedObserver adds fixed tags to every event. Event tags win on conflict.
type TaggedObserver struct {
	inner Observer
	tags  map[string]string
}

func WithTags(inner Observer, tags map[string]string) Observer {
	if inner == nil {
		return NoopObserver{}
	}
	if _, ok := inner.(NoopObserver); ok {
		return inner
	}
	return &TaggedObserver{inner: inner, tags: tags}
}

func (t *TaggedObserver) RecordEvent(ev MetricsEvent) {
	merged := make(map[string]string, len(t.tags)+len(ev.Tags))
	for k, v := range t.tags {
		if v != "" {
			merged[k] = v
		}
	}
	for k, v := range ev.Tags {
		merged[k] = v
	}
	ev.Tags = merged
	t.inner.RecordEvent(ev)
}
