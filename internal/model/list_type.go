package model

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var ErrInvalidListType = errors.New("invalid list type")

// ListType is the contact segment a user picks once during onboarding.
type ListType string

const (
	ListTypeAll     ListType = "All"
	ListTypeRoster  ListType = "Roster"
	ListTypeNetwork ListType = "Network"
	ListTypePeople  ListType = "People"
)

// ListTypes is the display order of the selection modal.
var ListTypes = []ListType{ListTypeAll, ListTypeRoster, ListTypeNetwork, ListTypePeople}

var listTypeDescriptions = map[ListType]string{
	ListTypeAll:     "Show everyone",
	ListTypeRoster:  "Casual Connections",
	ListTypeNetwork: "Professional Contacts",
	ListTypePeople:  "Friends and Family",
}

// ParseListType accepts the canonical names case-insensitively.
func ParseListType(s string) (ListType, error) {
	title := ListType(cases.Title(language.English).String(strings.TrimSpace(s)))
	for _, lt := range ListTypes {
		if lt == title {
			return lt, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidListType, s)
}

func (l ListType) String() string {
	return string(l)
}

func (l ListType) Valid() bool {
	_, ok := listTypeDescriptions[l]
	return ok
}

func (l ListType) Label() string {
	if l == ListTypeAll {
		return "All Contacts"
	}
	return string(l)
}

func (l ListType) Description() string {
	return listTypeDescriptions[l]
}

// Scan implements sql.Scanner so nullable columns map onto *ListType.
func (l *ListType) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*l = ListType(v)
	case []byte:
		*l = ListType(v)
	default:
		return fmt.Errorf("cannot scan %T into ListType", src)
	}
	return nil
}

func (l ListType) Value() (driver.Value, error) {
	return string(l), nil
}
