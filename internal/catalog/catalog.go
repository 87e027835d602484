// Package catalog предоставляет доступ к меню бургеров и топпингов.
package catalog

import (
	"context"
	"errors"
)

var (
	// ErrBurgerNotFound возвращается для неизвестного идентификатора бургера.
	ErrBurgerNotFound = errors.New("burger not found")
	// ErrToppingNotFound возвращается для неизвестного идентификатора топпинга.
	ErrToppingNotFound = errors.New("topping not found")
)

// Burger описывает позицию меню.
type Burger struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Topping описывает дополнительный топпинг.
type Topping struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// Catalog описывает контракт доступа к меню, используемый при валидации
// и расчёте стоимости заказа.
type Catalog interface {
	Burger(ctx context.Context, id string) (*Burger, error)
	Topping(ctx context.Context, id string) (*Topping, error)
}

// StaticCatalog — встроенное меню. Каталог считается внешним коллаборатором,
// его состав в рамках этого сервиса не изменяется.
type StaticCatalog struct {
	burgers  map[string]Burger
	toppings map[string]Topping
}

// NewStaticCatalog создаёт каталог со стандартным меню.
func NewStaticCatalog() *StaticCatalog {
	burgers := []Burger{
		{ID: "classic", Name: "Classic Burger", Price: 8.50},
		{ID: "cheese", Name: "Cheeseburger", Price: 9.50},
		{ID: "double", Name: "Double Smash", Price: 12.00},
		{ID: "veggie", Name: "Veggie Burger", Price: 9.00},
		{ID: "bbq-bacon", Name: "BBQ Bacon Burger", Price: 11.50},
		{ID: "spicy", Name: "Spicy Jalapeno Burger", Price: 10.00},
	}
	toppings := []Topping{
		{ID: "extra-cheese", Name: "Extra Cheese", Price: 1.00},
		{ID: "bacon", Name: "Bacon", Price: 1.50},
		{ID: "jalapeno", Name: "Jalapeno", Price: 0.75},
		{ID: "fried-egg", Name: "Fried Egg", Price: 1.25},
		{ID: "avocado", Name: "Avocado", Price: 2.00},
		{ID: "caramelized-onion", Name: "Caramelized Onion", Price: 0.90},
	}

	c := &StaticCatalog{
		burgers:  make(map[string]Burger, len(burgers)),
		toppings: make(map[string]Topping, len(toppings)),
	}
	for _, b := range burgers {
		c.burgers[b.ID] = b
	}
	for _, t := range toppings {
		c.toppings[t.ID] = t
	}
	return c
}

// Burger возвращает позицию меню по идентификатору.
func (c *StaticCatalog) Burger(ctx context.Context, id string) (*Burger, error) {
	b, ok := c.burgers[id]
	if !ok {
		return nil, ErrBurgerNotFound
	}
	return &b, nil
}

// Topping возвращает топпинг по идентификатору.
func (c *StaticCatalog) Topping(ctx context.Context, id string) (*Topping, error) {
	t, ok := c.toppings[id]
	if !ok {
		return nil, ErrToppingNotFound
	}
	return &t, nil
}
