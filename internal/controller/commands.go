package controller

import (
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/dmitrijs2005/clipkeeper/internal/models"
	"github.com/dmitrijs2005/clipkeeper/internal/repositories/history"
)

// Command is a request from a UI collaborator. The set is closed: only the
// types in this file implement it.
type Command interface {
	Name() string
	command()
}

type Search struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty" validate:"gte=0"`
}

type PasteItem struct {
	Origin models.Origin `json:"origin" validate:"required,oneof=history snippet"`
	ID     int64         `json:"id" validate:"gt=0"`
}

type PinToggle struct {
	ID int64 `json:"id" validate:"gt=0"`
}

type DeleteHistory struct {
	ID int64 `json:"id" validate:"gt=0"`
}

type CreateSnippet struct {
	CategoryID int64  `json:"category_id" validate:"gt=0"`
	Title      string `json:"title" validate:"required,max=200"`
	Content    string `json:"content" validate:"maxbytes"`
	Masked     bool   `json:"masked"`
}

// UpdateSnippet replaces a snippet. For a masked snippet an empty Content
// keeps the stored ciphertext.
type UpdateSnippet struct {
	ID         int64  `json:"id" validate:"gt=0"`
	CategoryID int64  `json:"category_id" validate:"gt=0"`
	Title      string `json:"title" validate:"required,max=200"`
	Content    string `json:"content" validate:"maxbytes"`
	Masked     bool   `json:"masked"`
}

type DeleteSnippet struct {
	ID int64 `json:"id" validate:"gt=0"`
}

// GetSnippet returns a snippet; Reveal decrypts masked content.
type GetSnippet struct {
	ID     int64 `json:"id" validate:"gt=0"`
	Reveal bool  `json:"reveal"`
}

type Unlock struct {
	Password []byte `json:"password" validate:"required"`
}

type Lock struct{}

type ChangePassword struct {
	Old []byte `json:"old" validate:"required"`
	New []byte `json:"new" validate:"required"`
}

type ListRecent struct {
	After *history.Cursor `json:"after,omitempty"`
	Limit int             `json:"limit,omitempty" validate:"gte=0"`
}

type ListSnippets struct {
	CategoryID int64 `json:"category_id" validate:"gte=0"`
}

type ListCategories struct{}

type CreateCategory struct {
	Label     string `json:"name" validate:"required,max=100"`
	Icon      string `json:"icon,omitempty"`
	SortOrder int    `json:"sort_order"`
	Locked    bool   `json:"locked"`
}

type DeleteCategory struct {
	ID int64 `json:"id" validate:"gt=0"`
}

type TagItem struct {
	Tag      string          `json:"tag" validate:"required,max=100"`
	ItemID   int64           `json:"item_id" validate:"gt=0"`
	ItemType models.ItemType `json:"item_type" validate:"required,oneof=history snippet"`
}

type UntagItem struct {
	Tag      string          `json:"tag" validate:"required"`
	ItemID   int64           `json:"item_id" validate:"gt=0"`
	ItemType models.ItemType `json:"item_type" validate:"required,oneof=history snippet"`
}

type ListTags struct{}

// ToggleQueueMode switches paste queue mode. While enabled every captured
// entry is appended to the queue; disabling clears it.
type ToggleQueueMode struct {
	Enabled bool `json:"enabled"`
}

// NextQueueItem pastes the oldest queued entry.
type NextQueueItem struct{}

// Evict applies the configured retention limits now.
type Evict struct{}

type GetStatus struct{}

func (*Search) Name() string          { return "search" }
func (*PasteItem) Name() string       { return "paste" }
func (*PinToggle) Name() string       { return "pin" }
func (*DeleteHistory) Name() string   { return "delete-history" }
func (*CreateSnippet) Name() string   { return "create-snippet" }
func (*UpdateSnippet) Name() string   { return "update-snippet" }
func (*DeleteSnippet) Name() string   { return "delete-snippet" }
func (*GetSnippet) Name() string      { return "get-snippet" }
func (*Unlock) Name() string          { return "unlock" }
func (*Lock) Name() string            { return "lock" }
func (*ChangePassword) Name() string  { return "change-password" }
func (*ListRecent) Name() string      { return "recent" }
func (*ListSnippets) Name() string    { return "snippets" }
func (*ListCategories) Name() string  { return "categories" }
func (*CreateCategory) Name() string  { return "create-category" }
func (*DeleteCategory) Name() string  { return "delete-category" }
func (*TagItem) Name() string         { return "tag" }
func (*UntagItem) Name() string       { return "untag" }
func (*ListTags) Name() string        { return "tags" }
func (*ToggleQueueMode) Name() string { return "queue-mode" }
func (*NextQueueItem) Name() string   { return "queue-next" }
func (*Evict) Name() string           { return "evict" }
func (*GetStatus) Name() string       { return "status" }

func (*Search) command()          {}
func (*PasteItem) command()       {}
func (*PinToggle) command()       {}
func (*DeleteHistory) command()   {}
func (*CreateSnippet) command()   {}
func (*UpdateSnippet) command()   {}
func (*DeleteSnippet) command()   {}
func (*GetSnippet) command()      {}
func (*Unlock) command()          {}
func (*Lock) command()            {}
func (*ChangePassword) command()  {}
func (*ListRecent) command()      {}
func (*ListSnippets) command()    {}
func (*ListCategories) command()  {}
func (*CreateCategory) command()  {}
func (*DeleteCategory) command()  {}
func (*TagItem) command()         {}
func (*UntagItem) command()       {}
func (*ListTags) command()        {}
func (*ToggleQueueMode) command() {}
func (*NextQueueItem) command()   {}
func (*Evict) command()           {}
func (*GetStatus) command()       {}

var registry = map[string]func() Command{}

func register(fns ...func() Command) {
	for _, fn := range fns {
		registry[fn().Name()] = fn
	}
}

func init() {
	register(
		func() Command { return &Search{} },
		func() Command { return &PasteItem{} },
		func() Command { return &PinToggle{} },
		func() Command { return &DeleteHistory{} },
		func() Command { return &CreateSnippet{} },
		func() Command { return &UpdateSnippet{} },
		func() Command { return &DeleteSnippet{} },
		func() Command { return &GetSnippet{} },
		func() Command { return &Unlock{} },
		func() Command { return &Lock{} },
		func() Command { return &ChangePassword{} },
		func() Command { return &ListRecent{} },
		func() Command { return &ListSnippets{} },
		func() Command { return &ListCategories{} },
		func() Command { return &CreateCategory{} },
		func() Command { return &DeleteCategory{} },
		func() Command { return &TagItem{} },
		func() Command { return &UntagItem{} },
		func() Command { return &ListTags{} },
		func() Command { return &ToggleQueueMode{} },
		func() Command { return &NextQueueItem{} },
		func() Command { return &Evict{} },
		func() Command { return &GetStatus{} },
	)
}

// NewCommand returns a zero command for name, ready to be decoded into.
func NewCommand(name string) (Command, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown command %q", common.ErrInvalidCommand, name)
	}
	return fn(), nil
}

// CommandNames lists every command name, sorted.
func CommandNames() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MaxContentBytes bounds snippet content.
const MaxContentBytes = 1 << 20

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("maxbytes", func(fl validator.FieldLevel) bool {
		return len(fl.Field().String()) <= MaxContentBytes
	})
}

// Validate checks the field constraints of cmd.
func Validate(cmd Command) error {
	if cmd == nil {
		return fmt.Errorf("%w: nil command", common.ErrInvalidCommand)
	}
	if err := validate.Struct(cmd); err != nil {
		return fmt.Errorf("%w: %s: %w", common.ErrInvalidCommand, cmd.Name(), err)
	}
	return nil
}
