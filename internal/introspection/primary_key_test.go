package introspection

import "testing"

func TestPrimaryKeyColumn(t *testing.T) {
	tests := []struct {
		name     string
		table    Table
		wantName string
		wantNil  bool
	}{
		{
			name: "single primary key",
			table: Table{
				Name: "users",
				Columns: []Column{
					{Name: "id", Format: "int8", IsPrimaryKey: true},
					{Name: "name", Format: "text"},
				},
			},
			wantName: "id",
		},
		{
			name: "composite primary key returns first",
			table: Table{
				Name: "order_items",
				Columns: []Column{
					{Name: "order_id", Format: "int8", IsPrimaryKey: true},
					{Name: "product_id", Format: "int8", IsPrimaryKey: true},
					{Name: "quantity", Format: "int4"},
				},
			},
			wantName: "order_id",
		},
		{
			name: "no primary key",
			table: Table{
				Name: "logs",
				Columns: []Column{
					{Name: "message", Format: "text"},
					{Name: "created_at", Format: "timestamptz"},
				},
			},
			wantNil: true,
		},
		{
			name:    "empty table",
			table:   Table{Name: "empty", Columns: []Column{}},
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := PrimaryKeyColumn(tt.table)
			if tt.wantNil {
				if result != nil {
					t.Errorf("expected nil, got %q", result.Name)
				}
				return
			}
			if result == nil {
				t.Fatalf("expected %q, got nil", tt.wantName)
			}
			if result.Name != tt.wantName {
				t.Errorf("expected %q, got %q", tt.wantName, result.Name)
			}
		})
	}
}

func TestPrimaryKeyColumns(t *testing.T) {
	table := Table{
		Name: "order_items",
		Columns: []Column{
			{Name: "order_id", IsPrimaryKey: true},
			{Name: "quantity"},
			{Name: "product_id", IsPrimaryKey: true},
		},
	}

	cols := PrimaryKeyColumns(table)
	if len(cols) != 2 {
		t.Fatalf("expected 2 primary key columns, got %d", len(cols))
	}
	if cols[0].Name != "order_id" || cols[1].Name != "product_id" {
		t.Errorf("unexpected primary key order: %q, %q", cols[0].Name, cols[1].Name)
	}

	if got := PrimaryKeyColumns(Table{Name: "logs", Columns: []Column{{Name: "msg"}}}); len(got) != 0 {
		t.Errorf("expected no primary key columns, got %d", len(got))
	}
}

func TestFindColumn(t *testing.T) {
	table := Table{Columns: []Column{{Name: "id"}, {Name: "title", Format: "text"}}}

	col, ok := FindColumn(table, "title")
	if !ok || col.Format != "text" {
		t.Fatalf("expected title column, got %+v (ok=%v)", col, ok)
	}
	if _, ok := FindColumn(table, "missing"); ok {
		t.Error("expected missing column lookup to fail")
	}
}

func TestQualifiedName(t *testing.T) {
	if got := QualifiedName(Table{Name: "posts"}); got != `"public"."posts"` {
		t.Errorf("unexpected default qualified name %q", got)
	}
	if got := QualifiedName(Table{Schema: "auth", Name: "users"}); got != `"auth"."users"` {
		t.Errorf("unexpected qualified name %q", got)
	}
}
