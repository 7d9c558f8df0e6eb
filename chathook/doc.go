// Package chathook is an extension that reports workflow trouble into the
// incident's chat thread.
//
// The runner narrates normal progress itself. This hook covers what an
// operator must notice: a failing step, an aborted workflow, an incident
// stuck past its maximum wait, and a refused closure. Each event becomes
// one message posted through a [chat.Channel] into the thread recorded on
// the incident.
//
// # Selective filtering
//
//	chathook.New(channel, incidents,
//	    chathook.WithEvents(
//	        chathook.EventWorkflowFailed,
//	        chathook.EventIncidentStale,
//	    ),
//	)
package chathook
