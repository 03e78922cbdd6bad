// Package agent is the boundary to the external agent server.
//
// The agent server ("agentd") is a long-lived local process that quill spawns
// on demand. Each running process is an Instance, addressed over HTTP on a
// local port. An Instance hosts Sessions; each session accepts one prompt at
// a time and reports its progress on the instance-wide event feed.
//
// The package has three layers:
//
//   - Provider/Instance: spawning and releasing agent processes
//     (ExecProvider is the production implementation; tests substitute
//     their own Provider)
//   - Acquirer: the bounded port-scan loop that turns a Provider into a
//     ready Instance
//   - Client: the session API of one Instance (create session, send
//     prompt, subscribe to the event feed)
package agent
