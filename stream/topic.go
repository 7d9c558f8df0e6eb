package stream

import (
	"fmt"
	"strings"
	"sync"
)

// Topic names:
//
//	incident:<id>  events of one incident, its jobs included
//	incidents      every workflow and incident event
//	jobs           every job event
//	firehose       everything
const (
	TopicIncidents = "incidents"
	TopicJobs      = "jobs"
	TopicFirehose  = "firehose"
)

const incidentPrefix = "incident:"

// IncidentTopic returns the topic of one incident.
func IncidentTopic(incidentID string) string { return incidentPrefix + incidentID }

// TopicRegistry manages subscriber sets per topic. It is safe for
// concurrent use.
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Subscriber // topic → subscriberID → subscriber
}

// NewTopicRegistry creates an empty topic registry.
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]map[string]*Subscriber)}
}

// Subscribe adds a subscriber to a topic.
func (tr *TopicRegistry) Subscribe(topic string, sub *Subscriber) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	subs, ok := tr.topics[topic]
	if !ok {
		subs = make(map[string]*Subscriber)
		tr.topics[topic] = subs
	}
	subs[sub.ID()] = sub
}

// Unsubscribe removes a subscriber from a topic and drops empty topics.
func (tr *TopicRegistry) Unsubscribe(topic, subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.remove(topic, subscriberID)
}

// UnsubscribeAll removes a subscriber from every topic.
func (tr *TopicRegistry) UnsubscribeAll(subscriberID string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for topic := range tr.topics {
		tr.remove(topic, subscriberID)
	}
}

func (tr *TopicRegistry) remove(topic, subscriberID string) {
	subs, ok := tr.topics[topic]
	if !ok {
		return
	}
	delete(subs, subscriberID)
	if len(subs) == 0 {
		delete(tr.topics, topic)
	}
}

// Broadcast sends an event to the subscribers of every listed topic, once
// per subscriber. It returns how many subscribers took the event.
func (tr *TopicRegistry) Broadcast(topics []string, evt *Event) int {
	tr.mu.RLock()
	seen := make(map[string]*Subscriber)
	for _, topic := range topics {
		for id, sub := range tr.topics[topic] {
			seen[id] = sub
		}
	}
	tr.mu.RUnlock()

	delivered := 0
	for _, sub := range seen {
		if sub.send(evt) {
			delivered++
		}
	}
	return delivered
}

// TopicCount returns the number of active topics.
func (tr *TopicRegistry) TopicCount() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics)
}

// SubscriberCount returns the number of subscribers on a topic.
func (tr *TopicRegistry) SubscriberCount(topic string) int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.topics[topic])
}

// resolveTopics returns every topic an event is published on.
func resolveTopics(evt *Event) []string {
	topics := []string{TopicFirehose}
	switch t := string(evt.Type); {
	case strings.HasPrefix(t, "job."):
		topics = append(topics, TopicJobs)
	case strings.HasPrefix(t, "workflow."), strings.HasPrefix(t, "incident."):
		topics = append(topics, TopicIncidents)
	}
	if evt.Topic != "" {
		topics = append(topics, evt.Topic)
	}
	return topics
}

// ValidateTopic checks whether a topic name is well formed.
func ValidateTopic(topic string) error {
	switch topic {
	case TopicIncidents, TopicJobs, TopicFirehose:
		return nil
	}
	if id, ok := strings.CutPrefix(topic, incidentPrefix); ok && id != "" {
		return nil
	}
	return fmt.Errorf("stream: invalid topic %q", topic)
}
