package reminder

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// Routine is a recurring scheduled prompt, e.g. a morning check-in.
type Routine struct {
	// Name identifies the routine in logs.
	Name string `yaml:"name"`
	// Schedule is a standard 5-field cron expression.
	Schedule string `yaml:"schedule"`
	// Message is delivered to the session when the routine fires.
	Message string `yaml:"message"`
}

// Routines runs recurring routines on cron schedules.
type Routines struct {
	c       *cron.Cron
	onFired func(Routine)
}

// NewRoutines registers the given routines. onFired is invoked from the
// cron goroutine each time a routine triggers.
func NewRoutines(routines []Routine, onFired func(Routine)) (*Routines, error) {
	r := &Routines{
		c:       cron.New(),
		onFired: onFired,
	}

	for _, routine := range routines {
		routine := routine
		if routine.Schedule == "" || routine.Message == "" {
			return nil, fmt.Errorf("routine %q needs both schedule and message", routine.Name)
		}
		if _, err := r.c.AddFunc(routine.Schedule, func() {
			log.Printf("[reminder] routine %q fired", routine.Name)
			r.onFired(routine)
		}); err != nil {
			return nil, fmt.Errorf("register routine %q: %w", routine.Name, err)
		}
	}

	return r, nil
}

// Start begins running the schedules in their own goroutine.
func (r *Routines) Start() {
	r.c.Start()
}

// Stop halts scheduling. Running callbacks finish.
func (r *Routines) Stop() {
	r.c.Stop()
}
