package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	ishell "github.com/abiosoft/ishell"
	"github.com/common-nighthawk/go-figure"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/frontend/client"
	"github.com/jghoshh/goalnudge/lib/utils"
)

// The Command struct defines a user command in the system. Each command has a Name, a Desc (short for description), and a Func (the function to execute when the command is called).
type Command struct {
	Name string                  // Name is the name of the command.
	Desc string                  // Desc is a short description of what the command does.
	Func func(c *ishell.Context) // Func is the function that is executed when the command is invoked.
}

// Shell is the interactive goal tracker. Guest commands are shown until a
// user signs in, then they are swapped for the user commands.
type Shell struct {
	shell    *ishell.Shell
	client   *client.Client
	out      io.Writer
	loggedIn bool

	guestCommands  []Command
	userCommands   []Command
	commonCommands []Command

	// lastGoals is the most recent listing, so goals can be picked by number.
	lastGoals []models.Goal
}

func New(c *client.Client) *Shell {
	s := &Shell{
		shell:  ishell.New(),
		client: c,
		out:    os.Stdout,
	}
	s.guestCommands = s.authCommands()
	s.userCommands = append(s.accountCommands(), s.goalCommands()...)
	s.commonCommands = []Command{
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				c.Println("Goodbye!")
				s.shell.Stop()
			},
		},
	}
	// The help command is created separately to avoid the cyclic dependency
	s.commonCommands = append(s.commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: s.help,
	})
	return s
}

func (s *Shell) help(c *ishell.Context) {
	c.Println("Available commands:")
	commands := s.guestCommands
	if s.loggedIn {
		commands = s.userCommands
	}
	for _, command := range append(commands, s.commonCommands...) {
		c.Println("  |-- '" + command.Name + "' : " + command.Desc)
	}
	c.Println()
}

// setLoggedIn swaps the guest and user command sets.
func (s *Shell) setLoggedIn(loggedIn bool) {
	if s.loggedIn == loggedIn {
		return
	}
	from, to := s.guestCommands, s.userCommands
	if !loggedIn {
		from, to = to, from
		s.lastGoals = nil
	}
	for _, command := range from {
		s.shell.DeleteCmd(command.Name)
	}
	addCommands(s.shell, to)
	s.loggedIn = loggedIn
}

// fail reports err. An expired session also signs the shell out.
func (s *Shell) fail(err error) {
	if errors.Is(err, client.ErrSessionExpired) || errors.Is(err, client.ErrNotSignedIn) {
		utils.PrintError(s.out, "Session expired, please sign in again by typing 'signin' in the terminal.")
		s.setLoggedIn(false)
		return
	}
	utils.PrintError(s.out, err.Error())
}

// addCommands is a helper function that adds the given commands to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: command.Desc,
			Func: command.Func,
		})
	}
}

// Execute welcomes the user, restores a stored session if there is one and
// runs the shell until 'exit'.
func (s *Shell) Execute() {
	s.shell.Println()
	figure.NewFigure("GoalNudge", "basic", true).Print()
	s.shell.Println("Welcome to GoalNudge -- daily goals with reminders. Type 'help' to see a list of commands.")

	addCommands(s.shell, s.commonCommands)
	addCommands(s.shell, s.guestCommands)

	token, err := s.client.IsUserAuthenticated()
	switch {
	case err != nil:
		fmt.Fprintln(s.out, "Could not restore your session:", err)
	case token != "":
		s.setLoggedIn(true)
		s.shell.Println("Welcome back, you are signed in.")
	}

	s.shell.Run()
}
