package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/noteduco342/om-delivery/internal/httpx"
	"github.com/noteduco342/om-delivery/internal/service"
)

type GroupHandler struct {
	groupService *service.GroupService
}

func NewGroupHandler(groupService *service.GroupService) *GroupHandler {
	return &GroupHandler{groupService: groupService}
}

type CreateGroupRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type AddMemberRequest struct {
	UserID uint `json:"user_id"`
}

func groupError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrForbidden):
		return httpx.Forbidden(c, "forbidden", "Only group admins can do that")
	case errors.Is(err, service.ErrAlreadyMember):
		return httpx.Error(c, fiber.StatusConflict, "already_member", err.Error())
	default:
		return httpx.FromError(c, err)
	}
}

func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	var req CreateGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return httpx.BadRequest(c, "invalid_request_body", "Invalid request body")
	}

	if req.Name == "" {
		return httpx.BadRequest(c, "missing_name", "Group name is required")
	}

	userID := c.Locals("userID").(uint)
	group, err := h.groupService.CreateGroup(req.Name, req.Description, userID)
	if err != nil {
		return groupError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(group)
}

func (h *GroupHandler) GetMyGroups(c *fiber.Ctx) error {
	userID := c.Locals("userID").(uint)
	groups, err := h.groupService.GetUserGroups(userID)
	if err != nil {
		return httpx.Internal(c, "fetch_groups_failed")
	}

	return c.JSON(groups)
}

func (h *GroupHandler) AddMember(c *fiber.Ctx) error {
	groupID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return httpx.BadRequest(c, "invalid_group_id", "Invalid group ID")
	}
	var req AddMemberRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == 0 {
		return httpx.BadRequest(c, "invalid_request_body", "user_id is required")
	}

	userID := c.Locals("userID").(uint)
	if err := h.groupService.AddMember(uint(groupID), userID, req.UserID); err != nil {
		return groupError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "Member added"})
}

func (h *GroupHandler) LeaveGroup(c *fiber.Ctx) error {
	groupID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return httpx.BadRequest(c, "invalid_group_id", "Invalid group ID")
	}

	userID := c.Locals("userID").(uint)
	if err := h.groupService.LeaveGroup(uint(groupID), userID); err != nil {
		return groupError(c, err)
	}

	return c.JSON(fiber.Map{"message": "Left group successfully"})
}

func (h *GroupHandler) GetGroupMembers(c *fiber.Ctx) error {
	groupID, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return httpx.BadRequest(c, "invalid_group_id", "Invalid group ID")
	}

	userID := c.Locals("userID").(uint)
	members, err := h.groupService.GetGroupMembers(uint(groupID), userID)
	if err != nil {
		return groupError(c, err)
	}

	return c.JSON(members)
}
