package pio

import (
	"slices"

	"github.com/dshills/piotask/internal/task"
)

// Task names of the generic catalogue.
const (
	TaskBuild            = "Build"
	TaskUpload           = "Upload"
	TaskMonitor          = "Monitor"
	TaskUploadAndMonitor = "Upload and Monitor"
	TaskDevices          = "Devices"
	TaskTest             = "Test"
	TaskClean            = "Clean"
	TaskFullClean        = "Full Clean"
	TaskCheck            = "Check"
)

type taskTemplate struct {
	name        string
	description string
	args        []string
	// target is the `pio run --target` name the template covers, if any.
	target string
}

var genericTasks = []taskTemplate{
	{name: TaskBuild, description: "Build the project", args: []string{"run"}},
	{name: TaskUpload, description: "Upload firmware", args: []string{"run", "--target", "upload"}, target: "upload"},
	{name: TaskMonitor, description: "Open the serial monitor", args: []string{"device", "monitor"}, target: "monitor"},
	{name: TaskUploadAndMonitor, description: "Upload firmware, then open the serial monitor", args: []string{"run", "--target", "upload", "--target", "monitor"}},
	{name: TaskDevices, description: "List connected devices", args: []string{"device", "list"}},
	{name: TaskTest, description: "Run unit tests", args: []string{"test"}},
	{name: TaskClean, description: "Remove build artifacts", args: []string{"run", "--target", "clean"}, target: "clean"},
	{name: TaskFullClean, description: "Remove build artifacts and libraries", args: []string{"run", "--target", "fullclean"}, target: "fullclean"},
	{name: TaskCheck, description: "Run static code analysis", args: []string{"check"}},
}

// envScoped is false for tasks that take no --environment flag.
func (t taskTemplate) envScoped() bool {
	return t.name != TaskDevices
}

func (t taskTemplate) build(env string) *task.ProjectTask {
	args := slices.Clone(t.args)
	if env != "" {
		args = append(args, "--environment", env)
	}
	pt := &task.ProjectTask{
		Name:        t.name,
		CoreEnv:     env,
		Description: t.description,
		Args:        args,
	}
	pt.ID = pt.Title()
	classify(pt)
	return pt
}

func classify(t *task.ProjectTask) {
	switch t.Name {
	case TaskBuild:
		t.IsBuild = true
	case TaskClean, TaskFullClean:
		t.IsClean = true
	case TaskTest:
		t.IsTest = true
	}
}

// DefaultTasks returns the project-wide catalogue.
func DefaultTasks() []*task.ProjectTask {
	tasks := make([]*task.ProjectTask, 0, len(genericTasks))
	for _, tmpl := range genericTasks {
		tasks = append(tasks, tmpl.build(""))
	}
	return tasks
}

// EnvTasks returns the generic catalogue scoped to env, followed by one task
// per platform target not already covered.
func EnvTasks(env string, targets []Target) []*task.ProjectTask {
	covered := make(map[string]bool)
	var tasks []*task.ProjectTask
	for _, tmpl := range genericTasks {
		if !tmpl.envScoped() {
			continue
		}
		tasks = append(tasks, tmpl.build(env))
		if tmpl.target != "" {
			covered[tmpl.target] = true
		}
	}

	for _, tg := range targets {
		if tg.Name == "" || covered[tg.Name] {
			continue
		}
		covered[tg.Name] = true
		title := tg.Title
		if title == "" {
			title = tg.Name
		}
		pt := &task.ProjectTask{
			Name:        title,
			CoreEnv:     env,
			Description: tg.Description,
			Args:        []string{"run", "--target", tg.Name, "--environment", env},
		}
		pt.ID = pt.Title()
		tasks = append(tasks, pt)
	}
	return tasks
}
