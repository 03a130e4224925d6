package controllers

import (
	"strconv"

	"gorm.io/gorm"
)

// Page sizes follow the site layout: dense listings show five posts, wide
// listings (groups, the subscription feed) show ten entries.
const (
	postsPerPage  = 5
	groupsPerPage = 10
	feedPerPage   = 10
)

// Paginator describes one page of a listing for the templates.
type Paginator struct {
	Num     int
	Pages   int
	PerPage int
	Count   int64
	HasPrev bool
	HasNext bool
	PrevNum int
	NextNum int
}

// parsePage reads the optional ?page= parameter. Anything unparsable means
// page one; out-of-range values are clamped later by paginate.
func parsePage(raw string) int {
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// paginate counts the query, clamps the requested page into range and loads
// one page of rows into dest, newest ordering already applied by the caller.
func paginate(query *gorm.DB, page, perPage int, dest interface{}) (Paginator, error) {
	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return Paginator{}, err
	}

	pages := int((total + int64(perPage) - 1) / int64(perPage))
	if pages < 1 {
		pages = 1
	}
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}

	if err := query.Offset((page - 1) * perPage).Limit(perPage).Find(dest).Error; err != nil {
		return Paginator{}, err
	}

	return Paginator{
		Num:     page,
		Pages:   pages,
		PerPage: perPage,
		Count:   total,
		HasPrev: page > 1,
		HasNext: page < pages,
		PrevNum: page - 1,
		NextNum: page + 1,
	}, nil
}
