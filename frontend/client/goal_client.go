package client

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/jghoshh/goalnudge/backend/goals"
	"github.com/jghoshh/goalnudge/backend/models"
	"github.com/jghoshh/goalnudge/backend/scheduler"
)

func goalPath(id string, action ...string) string {
	p := "/goals/" + url.PathEscape(id)
	for _, a := range action {
		p += "/" + a
	}
	return p
}

// ListGoals returns the user's goals. active filters by the active flag
// when not nil.
func (c *Client) ListGoals(active *bool) ([]models.Goal, error) {
	path := "/goals"
	if active != nil {
		path += "?active=" + strconv.FormatBool(*active)
	}
	var list []models.Goal
	if err := c.authorized(http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (c *Client) GetGoal(id string) (*models.Goal, error) {
	var g models.Goal
	if err := c.authorized(http.MethodGet, goalPath(id), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) CreateGoal(in goals.GoalInput) (*goals.Mutation, error) {
	var m goals.Mutation
	if err := c.authorized(http.MethodPost, "/goals", in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) UpdateGoal(id string, patch goals.GoalPatch) (*goals.Mutation, error) {
	var m goals.Mutation
	if err := c.authorized(http.MethodPatch, goalPath(id), patch, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) DeleteGoal(id string) (*scheduler.Result, error) {
	var res scheduler.Result
	if err := c.authorized(http.MethodDelete, goalPath(id), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) ToggleGoal(id string) (*models.Goal, error) {
	var g models.Goal
	if err := c.authorized(http.MethodPost, goalPath(id, "toggle"), nil, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) IncrementGoal(id string, by int) (*models.Goal, error) {
	var g models.Goal
	if err := c.authorized(http.MethodPost, goalPath(id, "increment"), map[string]int{"by": by}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (c *Client) DecrementGoal(id string, by int) (*models.Goal, error) {
	var g models.Goal
	if err := c.authorized(http.MethodPost, goalPath(id, "decrement"), map[string]int{"by": by}, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// SetGoalActive pauses or resumes a goal.
func (c *Client) SetGoalActive(id string, active bool) (*goals.Mutation, error) {
	var m goals.Mutation
	if err := c.authorized(http.MethodPost, goalPath(id, "active"), map[string]bool{"active": active}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Registrations lists the reminders currently registered for a goal.
func (c *Client) Registrations(id string) ([]scheduler.Pending, error) {
	var pending []scheduler.Pending
	if err := c.authorized(http.MethodGet, goalPath(id, "registrations"), nil, &pending); err != nil {
		return nil, err
	}
	return pending, nil
}

// Resync re-registers reminders for every active goal of the user.
func (c *Client) Resync() (*scheduler.Result, error) {
	var res scheduler.Result
	if err := c.authorized(http.MethodPost, "/goals/resync", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) Profile() (*models.User, error) {
	var u models.User
	if err := c.authorized(http.MethodGet, "/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UpdateProfile(patch goals.ProfilePatch) (*goals.ProfileUpdate, error) {
	var update goals.ProfileUpdate
	if err := c.authorized(http.MethodPut, "/me", patch, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// DeleteAccount removes the account on the server and clears the keyring.
func (c *Client) DeleteAccount() (*scheduler.Result, error) {
	var res scheduler.Result
	if err := c.authorized(http.MethodDelete, "/me", nil, &res); err != nil {
		return nil, err
	}
	return &res, c.ClearKeyring()
}
