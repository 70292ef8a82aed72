package model

import "time"

type Profile struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	Name             string    `db:"name"`
	IsProForLife     bool      `db:"is_pro_for_life"`
	SelectedListType *ListType `db:"selected_list_type"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}
