package cmd

import (
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/jghoshh/goalnudge/backend/goals"
	"github.com/jghoshh/goalnudge/lib/utils"
)

// authCommands are available to users who have not signed in.
func (s *Shell) authCommands() []Command {
	return []Command{
		{
			Name: "signin",
			Desc: "Sign in to your account",
			Func: func(c *ishell.Context) {
				var email, password string
				for {
					c.Print("Enter Email: ")
					email = c.ReadLine()

					if utils.ValidateEmail(strings.TrimSpace(email)) {
						break
					}
					c.Println("Email is not valid.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if len(password) > 0 {
						break
					}
					c.Println("Password cannot be empty.")
				}

				if err := s.client.SignIn(email, password); err != nil {
					utils.PrintError(s.out, err.Error())
					return
				}
				c.Println("Welcome, you are now signed in.")
				s.setLoggedIn(true)
			},
		},
		{
			Name: "signup",
			Desc: "Sign up for a new account",
			Func: func(c *ishell.Context) {
				var username, email, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()

					if utils.ValidateUsername(username) {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Email: ")
					email = c.ReadLine()

					if utils.ValidateEmail(strings.TrimSpace(email)) {
						break
					}
					c.Println("Email is not valid.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if !utils.ValidatePassword(password) {
						c.Println()
						c.Println("Password must be at least 8 characters and contain both letters and numbers.")
						c.Println()
						continue
					}
					c.Print("Confirm Password: ")
					if c.ReadPassword() == password {
						break
					}
					c.Println()
					c.Println("Passwords do not match. Please try again.")
					c.Println()
				}

				if _, err := s.client.SignUp(email, username, password); err != nil {
					utils.PrintError(s.out, err.Error())
					return
				}
				c.Println("Account created successfully. You are now signed in.")
				c.Println("Reminders are on; use 'notifications off' to mute them.")
				s.setLoggedIn(true)
			},
		},
	}
}

// accountCommands manage the session and profile of a signed in user.
func (s *Shell) accountCommands() []Command {
	return []Command{
		{
			Name: "profile",
			Desc: "Show your profile and weekly progress",
			Func: func(c *ishell.Context) {
				u, err := s.client.Profile()
				if err != nil {
					s.fail(err)
					return
				}
				c.Printf("Username:      %s\n", u.Username)
				c.Printf("Email:         %s\n", u.Email)
				c.Printf("Notifications: %s\n", onOff(u.NotificationsEnabled))
				c.Printf("This week:     %d completions (since %s)\n", u.WeeklyCompletions, u.WeekStart)
			},
		},
		{
			Name: "rename",
			Desc: "Change your username",
			Func: func(c *ishell.Context) {
				var username string
				for {
					c.Print("Enter New Username: ")
					username = c.ReadLine()
					if utils.ValidateUsername(username) {
						break
					}
					c.Println("New username must be longer than 1 character.")
				}
				if _, err := s.client.UpdateProfile(goals.ProfilePatch{Username: &username}); err != nil {
					s.fail(err)
					return
				}
				c.Println("Account updated successfully.")
			},
		},
		{
			Name: "notifications",
			Desc: "Turn goal reminders 'on' or 'off'",
			Func: func(c *ishell.Context) {
				if len(c.Args) != 1 || (c.Args[0] != "on" && c.Args[0] != "off") {
					c.Println("Usage: notifications on|off")
					return
				}
				enabled := c.Args[0] == "on"
				update, err := s.client.UpdateProfile(goals.ProfilePatch{NotificationsEnabled: &enabled})
				if err != nil {
					s.fail(err)
					return
				}
				c.Printf("Notifications are %s. %s\n", onOff(update.User.NotificationsEnabled), describeResult(update.Notifications))
			},
		},
		{
			Name: "deletemyacc",
			Desc: "Delete your account",
			Func: func(c *ishell.Context) {
				for {
					c.Print("Are you sure you want to delete your account? (yes/no): ")
					response := strings.ToLower(strings.TrimSpace(c.ReadLine()))
					if response == "no" {
						return
					}
					if response == "yes" {
						break
					}
					c.Println("Invalid response. Please type 'yes' or 'no'.")
				}
				if _, err := s.client.DeleteAccount(); err != nil {
					s.fail(err)
					return
				}
				c.Println("Account deleted successfully.")
				s.setLoggedIn(false)
			},
		},
		{
			Name: "signout",
			Desc: "Sign out from your account",
			Func: func(c *ishell.Context) {
				if err := s.client.SignOut(); err != nil {
					utils.PrintError(s.out, err.Error())
					return
				}
				c.Println("You are now signed out.")
				s.setLoggedIn(false)
			},
		},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
