package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"campuswire/internal/forum"
)

type forumApi struct {
	svc      *forum.Service
	validate *validator.Validate
}

type newThread struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body" validate:"required,max=10000"`
}

type newContent struct {
	Content string `json:"content" validate:"required,max=10000"`
}

func registerForumAPI(g *echo.Group, svc *forum.Service, validate *validator.Validate) {
	api := forumApi{svc: svc, validate: validate}

	g.POST("/courses/:courseId/threads", api.createThread)
	g.GET("/threads/:threadId", api.retrieveThread)
	g.POST("/threads/:threadId/posts", api.createPost)
	g.POST("/threads/:threadId/:transition", api.transition)
	g.POST("/posts/:postId/comments", api.createComment)
	g.POST("/moderation/actions", api.moderate)
}

// bind decodes the JSON body into data and validates it
func (api *forumApi) bind(ctx echo.Context, data interface{}) error {
	if err := (&echo.DefaultBinder{}).BindBody(ctx, data); err != nil {
		return errors.Wrap(err, "binding request body")
	}
	return api.validate.Struct(data)
}

func (api *forumApi) createThread(ctx echo.Context) error {
	identity, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	var data newThread
	if err := api.bind(ctx, &data); err != nil {
		return err
	}

	thread, err := api.svc.CreateThread(ctx.Request().Context(), identity, ctx.Param("courseId"), data.Title, data.Body)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, thread)
}

func (api *forumApi) retrieveThread(ctx echo.Context) error {
	thread, err := api.svc.GetThread(ctx.Request().Context(), ctx.Param("threadId"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, thread)
}

func (api *forumApi) createPost(ctx echo.Context) error {
	identity, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	var data newContent
	if err := api.bind(ctx, &data); err != nil {
		return err
	}

	post, err := api.svc.CreatePost(ctx.Request().Context(), identity, ctx.Param("threadId"), data.Content)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, post)
}

func (api *forumApi) createComment(ctx echo.Context) error {
	identity, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	var data newContent
	if err := api.bind(ctx, &data); err != nil {
		return err
	}

	comment, err := api.svc.CreateComment(ctx.Request().Context(), identity, ctx.Param("postId"), data.Content)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, comment)
}

func (api *forumApi) transition(ctx echo.Context) error {
	identity, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	transition, err := forum.ParseTransition(ctx.Param("transition"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "unknown thread action").WithInternal(err)
	}

	thread, err := api.svc.Transition(ctx.Request().Context(), identity, ctx.Param("threadId"), transition)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, thread)
}

func (api *forumApi) moderate(ctx echo.Context) error {
	identity, err := mustIdentity(ctx)
	if err != nil {
		return err
	}
	var data forum.ModerationRequest
	if err := api.bind(ctx, &data); err != nil {
		return err
	}

	action, err := api.svc.Moderate(ctx.Request().Context(), identity, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, action)
}
