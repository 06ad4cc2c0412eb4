// Package scene provides named device command groups for FleetCore.
//
// A scene is an ordered list of device commands that execute together,
// either from the API or as the target of a rule's set_scene action.
// Commands run sequentially; a failing command does not stop the rest,
// the activation degrades to partial instead.
//
// The Registry wraps a Repository with a thread-safe deep-copy cache.
// The Engine loads scenes from the Registry, sends commands through a
// CommandSender, and records every activation.
package scene
