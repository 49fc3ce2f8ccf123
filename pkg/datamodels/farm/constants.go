package farm

const (
	//AnimalTypeName is a type name constant for animal assets
	AnimalTypeName string = "asset--animal"
	//LandTypeName is a type name constant for land assets such as parcels and fields
	LandTypeName string = "asset--land"
	//StructureTypeName is a type name constant for buildings and other structures
	StructureTypeName string = "asset--structure"
	//GroupTypeName is a type name constant for group assets
	GroupTypeName string = "asset--group"
	//ActivityLogTypeName is a type name constant for activity logs
	ActivityLogTypeName string = "log--activity"
	//ObservationLogTypeName is a type name constant for observation logs
	ObservationLogTypeName string = "log--observation"
	//StandardQuantityTypeName is a type name constant for standard quantities
	StandardQuantityTypeName string = "quantity--standard"
	//AnimalTypeTermTypeName is a type name constant for the animal type taxonomy
	AnimalTypeTermTypeName string = "taxonomy_term--animal_type"
	//UnitTermTypeName is a type name constant for the unit taxonomy
	UnitTermTypeName string = "taxonomy_term--unit"
	//FileTypeName is a type name constant for uploaded files
	FileTypeName string = "file--file"
)

const (
	StatusDone    string = "done"
	StatusPending string = "pending"
)

// attribute names
const (
	IsFixed             string = "is_fixed"
	IsMovement          string = "is_movement"
	IsGroupAssignment   string = "is_group_assignment"
	IntrinsicGeometry   string = "intrinsic_geometry"
	Geometry            string = "geometry"
	Inventory           string = "inventory"
	InventoryAdjustment string = "inventory_adjustment"
	Measure             string = "measure"
	Value               string = "value"
	Label               string = "label"
)

// relationship names
const (
	AssetRelationship          string = "asset"
	LocationRelationship       string = "location"
	GroupRelationship          string = "group"
	QuantityRelationship       string = "quantity"
	UnitsRelationship          string = "units"
	InventoryAssetRelationship string = "inventory_asset"
	AnimalTypeRelationship     string = "animal_type"
)

const (
	AdjustmentIncrement string = "increment"
	AdjustmentDecrement string = "decrement"
	AdjustmentReset     string = "reset"
)
