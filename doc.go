// Package kapper is a small data-access layer that stays close to the SQL you already write. Statements use :named parameters that are rewritten into the positional placeholders of the target dialect, and every returned row is turned into a Go value by matching column names to struct fields, with no binding or extraction code to maintain and no ORM in between.

package kapper
