package inline

// Category groups a recognized command for display in help output.
type Category string

const (
	CategorySession     Category = "session"
	CategoryNavigation  Category = "navigation"
	CategoryInformation Category = "information"
	CategoryModel       Category = "model"
	CategoryContext     Category = "context"
	CategoryAction      Category = "action"
)

// CommandInfo describes one recognized command for help rendering.
type CommandInfo struct {
	Name        string
	Description string
	Args        string
	Category    Category
}

// AvailableCommands returns the fixed, documented set of recognized commands
// with their display metadata, in category-grouped order.
func AvailableCommands() []CommandInfo {
	return []CommandInfo{
		{Name: "new", Description: "Start a new conversation thread", Category: CategorySession},
		{Name: "clear", Description: "Clear the current conversation", Category: CategorySession},
		{Name: "thread", Description: "Switch to a thread by ID, or 'new' for a new thread", Args: "<thread_id|new>", Category: CategorySession},

		{Name: "undo", Description: "Undo the last turn", Category: CategoryNavigation},
		{Name: "redo", Description: "Redo an undone turn", Category: CategoryNavigation},
		{Name: "resume", Description: "Resume from a checkpoint", Args: "<checkpoint_id>", Category: CategoryNavigation},

		{Name: "help", Description: "Show available commands", Category: CategoryInformation},
		{Name: "version", Description: "Show the current version", Category: CategoryInformation},
		{Name: "tools", Description: "List available tools", Category: CategoryInformation},
		{Name: "status", Description: "Show agent status", Category: CategoryInformation},
		{Name: "ping", Description: "Check if the agent is alive", Category: CategoryInformation},

		{Name: "model", Description: "Show or switch the current model", Args: "[model_name]", Category: CategoryModel},

		{Name: "compact", Description: "Compact the context window", Category: CategoryContext},
		{Name: "summarize", Description: "Summarize the current thread", Category: CategoryContext},

		{Name: "suggest", Description: "Suggest next steps", Category: CategoryAction},
		{Name: "heartbeat", Description: "Trigger a manual heartbeat check", Category: CategoryAction},
		{Name: "interrupt", Description: "Stop the current operation", Category: CategoryAction},
		{Name: "cancel", Description: "Cancel a running job", Args: "[job_id]", Category: CategoryAction},
	}
}

// recognizedCommands is the fixed lookup set. It intentionally includes a
// few names (summary, stop, debug, job, list) that have no dedicated
// CommandInfo entry above but are still accepted by Parse.
var recognizedCommands = map[string]bool{
	"new": true, "clear": true, "thread": true,
	"undo": true, "redo": true, "resume": true,
	"help": true, "version": true, "tools": true, "status": true, "ping": true,
	"model": true,
	"compact": true, "summarize": true, "summary": true,
	"suggest": true, "heartbeat": true, "interrupt": true, "stop": true,
	"cancel": true, "debug": true, "job": true, "list": true,
}

func isRecognized(name string) bool {
	return recognizedCommands[name]
}

// categoryOrder fixes the display order used by FormatHelp.
var categoryOrder = []struct {
	cat   Category
	title string
}{
	{CategorySession, "Session"},
	{CategoryNavigation, "Navigation"},
	{CategoryInformation, "Information"},
	{CategoryModel, "Model"},
	{CategoryContext, "Context"},
	{CategoryAction, "Action"},
}
