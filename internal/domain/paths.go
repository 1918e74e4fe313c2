package domain

import "path/filepath"

// TeamDir returns the directory owning a team's config and mailboxes.
// Format: <root>/teams/<team>
func TeamDir(root, team string) string {
	return filepath.Join(root, "teams", team)
}

// TeamConfigPath returns the path of the team's config.json.
func TeamConfigPath(root, team string) string {
	return filepath.Join(TeamDir(root, team), "config.json")
}

// InboxDir returns the directory holding every participant's mailbox.
func InboxDir(root, team string) string {
	return filepath.Join(TeamDir(root, team), "inboxes")
}

// InboxPath returns the mailbox log of one participant.
// Format: <root>/teams/<team>/inboxes/<participant>.jsonl
func InboxPath(inboxDir, participant string) string {
	return filepath.Join(inboxDir, participant+".jsonl")
}

// TasksDir returns the directory of a team's task files.
// Format: <root>/tasks/<team>
func TasksDir(root, team string) string {
	return filepath.Join(root, "tasks", team)
}

// TaskPath returns the file of one task.
func TaskPath(tasksDir, id string) string {
	return filepath.Join(tasksDir, id+".json")
}

// LogsDir returns the directory for controller and agent diagnostics.
// It lives outside the team directory so logs outlast the session.
// Format: <root>/logs/<team>
func LogsDir(root, team string) string {
	return filepath.Join(root, "logs", team)
}

// AgentLogPath returns the file capturing an agent's stdout and stderr.
func AgentLogPath(logsDir, name string) string {
	return filepath.Join(logsDir, name+".log")
}

// ControllerLogPath returns the controller's own log file.
func ControllerLogPath(logsDir string) string {
	return filepath.Join(logsDir, "controller.log")
}

// GlobalConfigDir returns the global config directory under configHome.
func GlobalConfigDir(configHome string) string {
	return filepath.Join(configHome, "crewteam")
}
