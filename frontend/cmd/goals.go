package cmd

import (
	"fmt"
	"strconv"
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/jghoshh/goalnudge/backend/goals"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/planner"
	"github.com/jghoshh/goalnudge/lib/utils"
)

// goalCommands are the goal tracking commands of a signed in user.
func (s *Shell) goalCommands() []Command {
	return []Command{
		{
			Name: "goals",
			Desc: "List your goals ('goals all' includes paused ones)",
			Func: s.listGoals,
		},
		{
			Name: "addgoal",
			Desc: "Create a new goal",
			Func: s.addGoal,
		},
		{
			Name: "editgoal",
			Desc: "Edit a goal: editgoal <n>",
			Func: s.editGoal,
		},
		{
			Name: "done",
			Desc: "Mark a task goal done or not done today: done <n>",
			Func: s.withGoal(func(c *ishell.Context, id string) error {
				g, err := s.client.ToggleGoal(id)
				if err != nil {
					return err
				}
				c.Println(formatGoal(1, *g))
				return nil
			}),
		},
		{
			Name: "inc",
			Desc: "Add to a counter goal: inc <n> [amount]",
			Func: s.withGoal(func(c *ishell.Context, id string) error {
				by, err := amountArg(c.Args)
				if err != nil {
					return err
				}
				g, err := s.client.IncrementGoal(id, by)
				if err != nil {
					return err
				}
				c.Println(formatGoal(1, *g))
				return nil
			}),
		},
		{
			Name: "dec",
			Desc: "Subtract from a counter goal: dec <n> [amount]",
			Func: s.withGoal(func(c *ishell.Context, id string) error {
				by, err := amountArg(c.Args)
				if err != nil {
					return err
				}
				g, err := s.client.DecrementGoal(id, by)
				if err != nil {
					return err
				}
				c.Println(formatGoal(1, *g))
				return nil
			}),
		},
		{
			Name: "pause",
			Desc: "Pause a goal and its reminders: pause <n>",
			Func: s.withGoal(func(c *ishell.Context, id string) error {
				m, err := s.client.SetGoalActive(id, false)
				if err != nil {
					return err
				}
				c.Printf("Paused %q. %s\n", m.Goal.Name, describeResult(m.Notifications))
				return nil
			}),
		},
		{
			Name: "resume",
			Desc: "Resume a paused goal: resume <n>",
			Func: s.withGoal(func(c *ishell.Context, id string) error {
				m, err := s.client.SetGoalActive(id, true)
				if err != nil {
					return err
				}
				c.Printf("Resumed %q. Run 'resync' to turn its reminders back on.\n", m.Goal.Name)
				return nil
			}),
		},
		{
			Name: "deletegoal",
			Desc: "Delete a goal: deletegoal <n>",
			Func: s.withGoal(func(c *ishell.Context, id string) error {
				c.Print("Are you sure you want to delete this goal? (yes/no): ")
				if strings.ToLower(strings.TrimSpace(c.ReadLine())) != "yes" {
					return nil
				}
				res, err := s.client.DeleteGoal(id)
				if err != nil {
					return err
				}
				c.Printf("Goal deleted. %d reminder(s) cancelled.\n", res.Cancelled)
				return nil
			}),
		},
		{
			Name: "reminders",
			Desc: "Show the reminders registered for a goal: reminders <n>",
			Func: s.withGoal(func(c *ishell.Context, id string) error {
				pending, err := s.client.Registrations(id)
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					c.Println("No reminders registered.")
				}
				for _, p := range pending {
					c.Println("  " + formatRegistration(p))
				}
				return nil
			}),
		},
		{
			Name: "resync",
			Desc: "Re-register reminders for all active goals",
			Func: func(c *ishell.Context) {
				res, err := s.client.Resync()
				if err != nil {
					s.fail(err)
					return
				}
				c.Println(describeResult(*res))
			},
		},
	}
}

// withGoal resolves the first argument to a goal id before calling fn.
func (s *Shell) withGoal(fn func(c *ishell.Context, id string) error) func(c *ishell.Context) {
	return func(c *ishell.Context) {
		if len(c.Args) == 0 {
			c.Println("Which goal? Pass its number from 'goals'.")
			return
		}
		id, err := resolveGoal(c.Args[0], s.lastGoals)
		if err != nil {
			utils.PrintError(s.out, err.Error())
			return
		}
		if err := fn(c, id); err != nil {
			s.fail(err)
		}
	}
}

func amountArg(args []string) (int, error) {
	if len(args) < 2 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("amount must be a positive number")
	}
	return n, nil
}

func (s *Shell) listGoals(c *ishell.Context) {
	var active *bool
	if len(c.Args) == 0 || c.Args[0] != "all" {
		t := true
		active = &t
	}
	list, err := s.client.ListGoals(active)
	if err != nil {
		s.fail(err)
		return
	}
	s.lastGoals = list
	if len(list) == 0 {
		c.Println("No goals yet. Create one with 'addgoal'.")
		return
	}
	for i, g := range list {
		c.Println(formatGoal(i+1, g))
	}
}

func (s *Shell) addGoal(c *ishell.Context) {
	var in goals.GoalInput

	for {
		c.Print("Goal name: ")
		in.Name = strings.TrimSpace(c.ReadLine())
		if in.Name != "" {
			break
		}
		c.Println("Name cannot be empty.")
	}

	choice := c.MultiChoice([]string{"Task (done / not done)", "Counter (reach a daily target)"}, "Kind of goal?")
	in.Kind = models.KindTask
	if choice == 1 {
		in.Kind = models.KindIncremental
		for {
			c.Print("Daily target: ")
			n, err := strconv.Atoi(strings.TrimSpace(c.ReadLine()))
			if err == nil && n > 0 {
				in.Target = &n
				break
			}
			c.Println("Target must be a positive number.")
		}
	}

	for {
		c.Print("Repeat on (e.g. daily, weekdays, mon,wed,fri): ")
		days, err := utils.ParseWeekdays(c.ReadLine())
		if err == nil {
			in.RepeatDays = days
			break
		}
		c.Println(err.Error())
	}

	for {
		c.Printf("Reminder times, HH:MM comma separated, or a count 0-%d for defaults [1]: ", planner.MaxFrequency)
		line := strings.TrimSpace(c.ReadLine())
		if line == "" {
			break
		}
		if n, err := strconv.Atoi(line); err == nil {
			in.ReminderFrequency = &n
			break
		}
		slots, err := parseTimes(line)
		if err == nil {
			in.NotificationTimes = slots
			break
		}
		c.Println(err.Error())
	}

	c.Print("Icon (optional): ")
	in.Icon = strings.TrimSpace(c.ReadLine())

	m, err := s.client.CreateGoal(in)
	if err != nil {
		s.fail(err)
		return
	}
	c.Println("Goal created.")
	c.Println(formatGoal(len(s.lastGoals)+1, m.Goal))
	c.Println(describeResult(m.Notifications))
	s.lastGoals = append(s.lastGoals, m.Goal)
}

// editGoal prompts for each field; an empty answer keeps the current value.
func (s *Shell) editGoal(c *ishell.Context) {
	if len(c.Args) == 0 {
		c.Println("Which goal? Pass its number from 'goals'.")
		return
	}
	id, err := resolveGoal(c.Args[0], s.lastGoals)
	if err != nil {
		utils.PrintError(s.out, err.Error())
		return
	}
	current, err := s.client.GetGoal(id)
	if err != nil {
		s.fail(err)
		return
	}

	var patch goals.GoalPatch
	c.Printf("Name [%s]: ", current.Name)
	if name := strings.TrimSpace(c.ReadLine()); name != "" {
		patch.Name = &name
	}

	if current.Kind == models.KindIncremental && current.Target != nil {
		for {
			c.Printf("Daily target [%d]: ", *current.Target)
			line := strings.TrimSpace(c.ReadLine())
			if line == "" {
				break
			}
			if n, err := strconv.Atoi(line); err == nil && n > 0 {
				patch.Target = &n
				break
			}
			c.Println("Target must be a positive number.")
		}
	}

	for {
		c.Printf("Repeat on [%s]: ", utils.FormatWeekdays(current.RepeatDays))
		line := strings.TrimSpace(c.ReadLine())
		if line == "" {
			break
		}
		days, err := utils.ParseWeekdays(line)
		if err == nil {
			patch.RepeatDays = &days
			break
		}
		c.Println(err.Error())
	}

	for {
		times := make([]string, len(current.NotificationTimes))
		for i, slot := range current.NotificationTimes {
			times[i] = planner.FormatClock(slot)
		}
		c.Printf("Reminder times or count [%s]: ", strings.Join(times, ","))
		line := strings.TrimSpace(c.ReadLine())
		if line == "" {
			break
		}
		if n, err := strconv.Atoi(line); err == nil {
			patch.ReminderFrequency = &n
			break
		}
		slots, err := parseTimes(line)
		if err == nil {
			patch.NotificationTimes = &slots
			break
		}
		c.Println(err.Error())
	}

	if patch.Empty() {
		c.Println("Nothing changed.")
		return
	}
	m, err := s.client.UpdateGoal(id, patch)
	if err != nil {
		s.fail(err)
		return
	}
	c.Println("Goal updated.")
	c.Println(formatGoal(1, m.Goal))
	c.Println(describeResult(m.Notifications))
}
